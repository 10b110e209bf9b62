package catalog

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var defaultImages = map[string]string{
	"Floor 1": "khandvi",
	"Floor 2": "cappuccino",
	"Floor 3": "dal",
	"Floor 4": "arise",
}

// imageFor returns the image for an item and whether it is a custom one.
func imageFor(floor, ref string) (string, bool) {
	if ref != "" {
		return ref, true
	}
	if img, ok := defaultImages[floor]; ok {
		return img, false
	}
	return "default", false
}

type seedItem struct {
	name        string
	description string
	price       int64
	category    string
	stock       int
}

var defaultMenus = map[string][]seedItem{
	"Floor 1": {
		{"Khandvi", "Soft gram flour rolls tempered with mustard seeds", 40, "Main Course", 15},
		{"Thepla", "Spiced fenugreek flatbread", 45, "Main Course", 20},
		{"Veg Thali", "Dal, sabzi, rice, roti and salad", 100, "Main Course", 12},
		{"Vada Pav", "Potato fritter in a bun with chutneys", 35, "Main Course", 25},
	},
	"Floor 2": {
		{"Cappuccino", "Espresso with steamed milk foam", 180, "Beverages", 30},
		{"Fresh Lime Soda", "Sweet or salted lime soda", 220, "Beverages", 25},
		{"Mango Smoothie", "Alphonso mango blended with yogurt", 120, "Beverages", 20},
		{"Grilled Cheese Toast", "Cheese and vegetables on grilled bread", 160, "Beverages", 18},
	},
	"Floor 3": {
		{"Dal Dhokli", "Wheat dumplings simmered in sweet and sour dal", 180, "Gujarati Special", 10},
		{"Undhiyu", "Slow cooked mixed winter vegetables", 220, "Gujarati Special", 8},
		{"Sev Tameta", "Tangy tomato curry topped with sev", 120, "Gujarati Special", 15},
		{"Handvo", "Baked savoury lentil and rice cake", 160, "Gujarati Special", 12},
	},
	"Floor 4": {
		{"Ariselu", "Jaggery and rice flour sweet", 180, "Telugu Special", 14},
		{"Pootharekulu", "Paper thin rice sheets with sugar and ghee", 220, "Telugu Special", 10},
		{"Kajjikayalu", "Fried pastry stuffed with coconut", 120, "Telugu Special", 16},
		{"Pesarattu Upma", "Green gram dosa filled with upma", 160, "Telugu Special", 18},
	},
}

// SeedDefaults loads the default menu into every configured floor that has
// one and no items yet. It returns the number of items created.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	created := 0
	for _, floor := range s.floors {
		menu, ok := defaultMenus[floor]
		if !ok {
			continue
		}
		empty, err := s.IsFloorEmpty(ctx, floor)
		if err != nil {
			return created, err
		}
		if !empty {
			continue
		}
		for _, it := range menu {
			stock := it.stock
			_, err := s.Add(ctx, NewItem{
				Name:        it.name,
				Description: it.description,
				Price:       decimal.NewFromInt(it.price),
				Category:    it.category,
				Floor:       floor,
				Stock:       &stock,
			})
			if err != nil {
				return created, err
			}
			created++
		}
		s.logger.Info("seeded default menu", zap.String("floor", floor), zap.Int("items", len(menu)))
	}
	return created, nil
}
