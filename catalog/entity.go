package catalog

// SentinelID marks an entity that has not been assigned an identifier yet.
// The batch processor replaces it with a fresh UUID and performs a create
// instead of an update.
const SentinelID = "none"

// DefaultCategory is assigned when an inbound record carries no category.
const DefaultCategory = "general"

// Entity is one catalog item. The metadata lives in the products table,
// keyed by (id, category); the count lives in the stocks table, keyed by
// product_id. Both rows are always written or deleted together.
type Entity struct {
	ID          string  `json:"id" dynamodbav:"id"`
	Category    string  `json:"category" dynamodbav:"category"`
	Title       string  `json:"title" dynamodbav:"title"`
	Description string  `json:"description" dynamodbav:"description"`
	Price       float64 `json:"price" dynamodbav:"price"`
	Count       int64   `json:"count" dynamodbav:"-"`

	// ImageURL is tri-state: nil means "not supplied" (an update leaves the
	// stored value alone), empty string means "remove the image".
	ImageURL *string `json:"imageURL,omitempty" dynamodbav:"imageURL,omitempty"`
}

// Stock is the stocks-table row paired one-to-one with an Entity.
type Stock struct {
	ProductID string `json:"product_id" dynamodbav:"product_id"`
	Count     int64  `json:"count" dynamodbav:"count"`
}
