package catalog

import (
	"fmt"

	"github.com/hanpama/graphload/internal/query"
)

// Inserter receives seed records. memstore.Store implements it.
type Inserter interface {
	Insert(entity string, recs ...query.Record)
}

// Seed fills st with a small deterministic data set: 4 users, 8 orders,
// 16 order items, 8 products and a two-level category tree.
func Seed(st Inserter) {
	for entity, recs := range Records() {
		st.Insert(entity, recs...)
	}
}

// Records returns the seed data by entity type.
func Records() map[string][]query.Record {
	categories := []query.Record{
		{"id": 1, "name": "Stationery", "parent_id": nil},
		{"id": 2, "name": "Paper", "parent_id": 1},
		{"id": 3, "name": "Pens", "parent_id": 1},
		{"id": 4, "name": "Office", "parent_id": nil},
	}
	products := []query.Record{
		{"id": 101, "name": "Notebook", "price": 4.5, "category_id": 2},
		{"id": 102, "name": "Legal pad", "price": 3.0, "category_id": 2},
		{"id": 103, "name": "Sketchbook", "price": 12.0, "category_id": 2},
		{"id": 104, "name": "Fountain pen", "price": 35.0, "category_id": 3},
		{"id": 105, "name": "Gel pen", "price": 1.5, "category_id": 3},
		{"id": 106, "name": "Marker", "price": 2.25, "category_id": 3},
		{"id": 107, "name": "Stapler", "price": 9.99, "category_id": 4},
		{"id": 108, "name": "Desk lamp", "price": 29.0, "category_id": 4},
	}
	users := []query.Record{
		{"id": 1, "name": "Ada", "email": "ada@example.com"},
		{"id": 2, "name": "Brian", "email": "brian@example.com"},
		{"id": 3, "name": "Chen", "email": "chen@example.com"},
		{"id": 4, "name": "Dana", "email": "dana@example.com"},
	}
	statuses := []string{"placed", "shipped", "delivered"}

	var orders, items []query.Record
	itemID := 1
	for i := range 8 {
		id := 1001 + i
		orders = append(orders, query.Record{
			"id":        id,
			"user_id":   i%4 + 1,
			"status":    statuses[i%len(statuses)],
			"placed_at": fmt.Sprintf("2024-03-%02dT10:00:00Z", i+1),
		})
		total := 0.0
		for j := range 2 {
			p := products[(i*3+j*5)%len(products)]
			qty := j + 1
			items = append(items, query.Record{
				"id":         itemID,
				"order_id":   id,
				"product_id": p["id"],
				"quantity":   qty,
			})
			itemID++
			total += p["price"].(float64) * float64(qty)
		}
		orders[i]["total"] = total
	}

	return map[string][]query.Record{
		Category:  categories,
		Product:   products,
		User:      users,
		Order:     orders,
		OrderItem: items,
	}
}
