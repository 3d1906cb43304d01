package core

// Purpose classifies why money was spent. It is derived from the taxonomy.
type Purpose string

const (
	PurposeConsumption Purpose = "消費"
	PurposeWaste       Purpose = "浪費"
	PurposeInvestment  Purpose = "投資"
)

type (
	Subcategory struct {
		Name    string  `json:"name"`
		Purpose Purpose `json:"purpose"`
	}

	Category struct {
		Name          string        `json:"name"`
		Subcategories []Subcategory `json:"subcategories"`
	}

	// Taxonomy is the static, ordered major → sub → purpose table.
	// Order matters: the first subcategory is the default after a major change.
	Taxonomy struct {
		categories []Category
		index      map[string]int
	}
)

func NewTaxonomy(categories []Category) *Taxonomy {
	t := &Taxonomy{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		if _, dup := t.index[c.Name]; dup {
			continue
		}
		subs := append([]Subcategory(nil), c.Subcategories...)
		t.index[c.Name] = len(t.categories)
		t.categories = append(t.categories, Category{Name: c.Name, Subcategories: subs})
	}
	return t
}

// DefaultTaxonomy returns the household category table.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy([]Category{
		{Name: "食費", Subcategories: []Subcategory{
			{"食材", PurposeConsumption},
			{"外食", PurposeWaste},
			{"その他", PurposeConsumption},
		}},
		{Name: "日用品", Subcategories: []Subcategory{
			{"キッチン", PurposeConsumption},
			{"トイレ", PurposeConsumption},
			{"洗面所", PurposeConsumption},
			{"風呂", PurposeConsumption},
			{"掃除", PurposeConsumption},
			{"医薬品", PurposeInvestment},
			{"家具", PurposeConsumption},
			{"その他", PurposeConsumption},
		}},
		{Name: "健康", Subcategories: []Subcategory{
			{"病院", PurposeInvestment},
			{"スポーツ", PurposeInvestment},
			{"その他", PurposeInvestment},
		}},
		{Name: "娯楽", Subcategories: []Subcategory{
			{"交通費", PurposeWaste},
			{"ホテル代", PurposeWaste},
			{"買い物", PurposeWaste},
			{"サブスク", PurposeWaste},
			{"家具", PurposeWaste},
			{"入場料", PurposeWaste},
			{"その他", PurposeWaste},
		}},
		{Name: "その他", Subcategories: []Subcategory{
			{"お土産", PurposeConsumption},
			{"ペット", PurposeConsumption},
			{"ホテル代", PurposeConsumption},
			{"光熱費", PurposeConsumption},
			{"その他", PurposeConsumption},
		}},
	})
}

// Majors returns the major category names in table order.
func (t *Taxonomy) Majors() []string {
	out := make([]string, len(t.categories))
	for i, c := range t.categories {
		out[i] = c.Name
	}
	return out
}

// Categories returns a copy of the full table.
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = Category{Name: c.Name, Subcategories: append([]Subcategory(nil), c.Subcategories...)}
	}
	return out
}

// SubcategoriesOf returns the subcategory names of major, empty if major is unknown.
func (t *Taxonomy) SubcategoriesOf(major string) []string {
	i, ok := t.index[major]
	if !ok {
		return []string{}
	}
	subs := t.categories[i].Subcategories
	out := make([]string, len(subs))
	for j, s := range subs {
		out[j] = s.Name
	}
	return out
}

// PurposeOf looks up the purpose of a (major, sub) pair.
func (t *Taxonomy) PurposeOf(major, sub string) (Purpose, bool) {
	i, ok := t.index[major]
	if !ok {
		return "", false
	}
	for _, s := range t.categories[i].Subcategories {
		if s.Name == sub {
			return s.Purpose, true
		}
	}
	return "", false
}
