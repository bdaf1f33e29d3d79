// Package catalog is the demo shop: users place orders of products that
// belong to a category tree.
package catalog

import (
	"fmt"

	"github.com/hanpama/graphload/internal/executor"
	"github.com/hanpama/graphload/internal/query"
)

// Entity type names.
const (
	User      = "user"
	Order     = "order"
	OrderItem = "order_item"
	Product   = "product"
	Category  = "category"
)

// Entities returns the entity types of the catalog without fetch functions.
func Entities() []query.EntityType {
	return []query.EntityType{
		{Name: User, PrimaryKey: "id", Filterable: []string{"name", "email"}, Sortable: []string{"name"}},
		{Name: Order, PrimaryKey: "id", Filterable: []string{"user_id", "status", "total"}, Sortable: []string{"total", "placed_at"}},
		{Name: OrderItem, PrimaryKey: "id", Filterable: []string{"order_id", "product_id"}},
		{Name: Product, PrimaryKey: "id", Filterable: []string{"category_id", "price", "name"}, Sortable: []string{"price", "name"}},
		{Name: Category, PrimaryKey: "id", Filterable: []string{"parent_id", "name"}, Sortable: []string{"name"}},
	}
}

// Register adds every catalog entity to reg, fetched through fetch.
func Register(reg *query.Registry, fetch query.FetchFunc) error {
	for _, et := range Entities() {
		et.Fetch = fetch
		if err := reg.Register(et); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

func pageOf(lim query.Limits) func(map[string]any) int { return executor.PageArity(lim) }

// Schema builds the executor schema over the catalog. Paginated fields are
// bounded by lim.
func Schema(lim query.Limits) (*executor.Schema, error) {
	byID := executor.Arg("id")
	return executor.NewSchema("Query",
		&executor.Object{Name: "Query", Fields: executor.Fields{
			"user":       {Type: "User", Resolve: executor.LoadOne(User, "id", byID)},
			"users":      {Type: "UserConnection", Arity: pageOf(lim), Resolve: executor.Paginate(User)},
			"order":      {Type: "Order", Resolve: executor.LoadOne(Order, "id", byID)},
			"product":    {Type: "Product", Resolve: executor.LoadOne(Product, "id", byID)},
			"products":   {Type: "ProductConnection", Arity: pageOf(lim), Resolve: executor.Paginate(Product)},
			"category":   {Type: "Category", Resolve: executor.LoadOne(Category, "id", byID)},
			"categories": {Type: "CategoryConnection", Arity: pageOf(lim), Resolve: executor.Paginate(Category)},
		}},
		&executor.Object{Name: "User", Fields: executor.Fields{
			"id":     {},
			"name":   {},
			"email":  {},
			"orders": {Type: "Order", List: true, Arity: fixed(50), Resolve: executor.LoadAll(Order, "user_id", executor.Parent("id"))},
			"orderPage": {
				Type:    "OrderConnection",
				Arity:   pageOf(lim),
				Resolve: executor.Paginate(Order, executor.Pin{Field: "user_id", Bind: executor.Parent("id")}),
			},
		}},
		&executor.Object{Name: "Order", Fields: executor.Fields{
			"id":        {},
			"status":    {},
			"total":     {},
			"placed_at": {},
			"user":      {Type: "User", Resolve: executor.LoadOne(User, "id", executor.Parent("user_id"))},
			"items":     {Type: "OrderItem", List: true, Arity: fixed(20), Resolve: executor.LoadAll(OrderItem, "order_id", executor.Parent("id"))},
		}},
		&executor.Object{Name: "OrderItem", Fields: executor.Fields{
			"id":       {},
			"quantity": {},
			"order":    {Type: "Order", Resolve: executor.LoadOne(Order, "id", executor.Parent("order_id"))},
			"product":  {Type: "Product", Resolve: executor.LoadOne(Product, "id", executor.Parent("product_id"))},
		}},
		&executor.Object{Name: "Product", Fields: executor.Fields{
			"id":       {},
			"name":     {},
			"price":    {},
			"category": {Type: "Category", Resolve: executor.LoadOne(Category, "id", executor.Parent("category_id"))},
		}},
		&executor.Object{Name: "Category", Fields: executor.Fields{
			"id":       {},
			"name":     {},
			"parent":   {Type: "Category", Resolve: executor.LoadOne(Category, "id", executor.Parent("parent_id"))},
			"children": {Type: "Category", List: true, Arity: fixed(20), Resolve: executor.LoadAll(Category, "parent_id", executor.Parent("id"))},
			"products": {
				Type:    "ProductConnection",
				Arity:   pageOf(lim),
				Resolve: executor.Paginate(Product, executor.Pin{Field: "category_id", Bind: executor.Parent("id")}),
			},
		}},
		executor.ConnectionObject("UserConnection", "User"),
		executor.ConnectionObject("OrderConnection", "Order"),
		executor.ConnectionObject("ProductConnection", "Product"),
		executor.ConnectionObject("CategoryConnection", "Category"),
	)
}

func fixed(n int) func(map[string]any) int {
	return func(map[string]any) int { return n }
}
