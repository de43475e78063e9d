package service

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/photo-credits/internal/model"
)

var catalog = []model.Package{
	{
		ID:          "basic",
		Name:        "Single Photo",
		Units:       1,
		Price:       decimal.NewFromInt(50),
		Description: "Transform 1 photo",
	},
	{
		ID:          "standard",
		Name:        "Photo Pack",
		Units:       5,
		Price:       decimal.NewFromInt(200),
		Description: "Transform 5 photos",
	},
	{
		ID:          "premium",
		Name:        "Studio Collection",
		Units:       15,
		Price:       decimal.NewFromInt(500),
		Description: "Transform 15 photos",
	},
}

// Packages возвращает каталог пакетов кредитов.
func Packages() []model.Package {
	return append([]model.Package(nil), catalog...)
}

// FindPackage ищет пакет по идентификатору.
func FindPackage(id string) (model.Package, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return model.Package{}, false
}
