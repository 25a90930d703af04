// Package tabstore applies catalog changes to the two related DynamoDB
// tables: product metadata keyed by (id, category) and stock counts keyed
// by product_id. Every write touches both tables inside one transaction so
// a stock row exists exactly when its product row does.
package tabstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/baldanca/catalog-ingestor/catalog"
)

var (
	// ErrNotFound is returned when an explicit precondition read finds no
	// entity before a transaction is attempted.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a conditional check fails: the row
	// vanished between read and write, or a concurrent transaction won.
	ErrConflict = errors.New("conditional check failed")
)

// API is the slice of the DynamoDB client the store depends on.
type API interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type Store struct {
	client API

	productsTable string
	stocksTable   string
	log           zerolog.Logger
}

func New(client API, productsTable, stocksTable string, log zerolog.Logger) *Store {
	if client == nil {
		panic("dynamodb client is required")
	}
	if strings.TrimSpace(productsTable) == "" || strings.TrimSpace(stocksTable) == "" {
		panic("table names are required")
	}
	return &Store{
		client:        client,
		productsTable: productsTable,
		stocksTable:   stocksTable,
		log:           log,
	}
}

// productRow is the products-table shape. ImageURL is only stored when the
// entity carries a non-empty URL.
type productRow struct {
	ID          string  `dynamodbav:"id"`
	Category    string  `dynamodbav:"category"`
	Title       string  `dynamodbav:"title"`
	Description string  `dynamodbav:"description"`
	Price       float64 `dynamodbav:"price"`
	ImageURL    *string `dynamodbav:"imageURL,omitempty"`
}

// Create puts the product row and its stock row in one transaction.
func (s *Store) Create(ctx context.Context, e catalog.Entity, id string) error {
	items, err := s.createItems(e, id)
	if err != nil {
		return err
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// Update applies an in-place conditional update when the entity's category
// is unchanged. A changed category is a move: the old product and stock
// rows are deleted and fresh rows are created at the new category, all in
// one transaction.
func (s *Store) Update(ctx context.Context, e catalog.Entity) error {
	current, err := s.queryProduct(ctx, e.ID)
	if err != nil {
		return err
	}

	var items []types.TransactWriteItem
	if current != nil && current.Category != e.Category {
		s.log.Info().
			Str("id", e.ID).
			Str("from", current.Category).
			Str("to", e.Category).
			Msg("category changed, moving entity")
		items = append(items, s.deleteItems(e.ID, current.Category)...)
		created, err := s.createItems(e, e.ID)
		if err != nil {
			return err
		}
		items = append(items, created...)
	} else {
		items = s.updateItems(e)
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// Delete removes both rows in one transaction. An empty category is
// discovered by reading the current entity first; ErrNotFound when it does
// not exist.
func (s *Store) Delete(ctx context.Context, id, category string) error {
	if category == "" {
		current, err := s.queryProduct(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: id=%s", ErrNotFound, id)
		}
		category = current.Category
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: s.deleteItems(id, category),
	}); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

// Get joins the product row with its stock count.
func (s *Store) Get(ctx context.Context, id string) (catalog.Entity, error) {
	var e catalog.Entity

	row, err := s.queryProduct(ctx, id)
	if err != nil {
		return e, err
	}
	if row == nil {
		return e, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.stocksTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return e, fmt.Errorf("get stock id=%q: %w", id, err)
	}

	e = catalog.Entity{
		ID:          row.ID,
		Category:    row.Category,
		Title:       row.Title,
		Description: row.Description,
		Price:       row.Price,
		ImageURL:    row.ImageURL,
	}
	if out.Item != nil {
		var st catalog.Stock
		if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
			return e, fmt.Errorf("unmarshal stock id=%q: %w", id, err)
		}
		e.Count = st.Count
	}
	return e, nil
}

func (s *Store) queryProduct(ctx context.Context, id string) (*productRow, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.productsTable,
		KeyConditionExpression: aws.String("id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: id},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query product id=%q: %w", id, err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var row productRow
	if err := attributevalue.UnmarshalMap(out.Items[0], &row); err != nil {
		return nil, fmt.Errorf("unmarshal product id=%q: %w", id, err)
	}
	return &row, nil
}

func (s *Store) createItems(e catalog.Entity, id string) ([]types.TransactWriteItem, error) {
	row := productRow{
		ID:          id,
		Category:    e.Category,
		Title:       e.Title,
		Description: e.Description,
		Price:       e.Price,
	}
	if e.ImageURL != nil && *e.ImageURL != "" {
		row.ImageURL = e.ImageURL
	}

	productItem, err := attributevalue.MarshalMap(row)
	if err != nil {
		return nil, fmt.Errorf("marshal product id=%q: %w", id, err)
	}
	stockItem, err := attributevalue.MarshalMap(catalog.Stock{ProductID: id, Count: e.Count})
	if err != nil {
		return nil, fmt.Errorf("marshal stock id=%q: %w", id, err)
	}

	return []types.TransactWriteItem{
		{Put: &types.Put{TableName: &s.productsTable, Item: productItem}},
		{Put: &types.Put{TableName: &s.stocksTable, Item: stockItem}},
	}, nil
}

func (s *Store) updateItems(e catalog.Entity) []types.TransactWriteItem {
	const commonSet = "SET title = :title, description = :description, price = :price"

	values := map[string]types.AttributeValue{
		":title":       &types.AttributeValueMemberS{Value: e.Title},
		":description": &types.AttributeValueMemberS{Value: e.Description},
		":price":       &types.AttributeValueMemberN{Value: formatFloat(e.Price)},
	}

	// Omitted imageURL leaves the stored value alone; an empty string
	// removes it.
	update := commonSet
	switch {
	case e.ImageURL == nil:
	case *e.ImageURL == "":
		update = "REMOVE imageURL " + commonSet
	default:
		update = commonSet + ", imageURL = :imageURL"
		values[":imageURL"] = &types.AttributeValueMemberS{Value: *e.ImageURL}
	}

	return []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName: &s.productsTable,
				Key: map[string]types.AttributeValue{
					"id":       &types.AttributeValueMemberS{Value: e.ID},
					"category": &types.AttributeValueMemberS{Value: e.Category},
				},
				UpdateExpression:          aws.String(update),
				ExpressionAttributeValues: values,
				ConditionExpression:       aws.String("attribute_exists(id) AND attribute_exists(category)"),
			},
		},
		{
			Update: &types.Update{
				TableName: &s.stocksTable,
				Key: map[string]types.AttributeValue{
					"product_id": &types.AttributeValueMemberS{Value: e.ID},
				},
				UpdateExpression:         aws.String("SET #count = :count"),
				ExpressionAttributeNames: map[string]string{"#count": "count"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":count": &types.AttributeValueMemberN{Value: strconv.FormatInt(e.Count, 10)},
				},
				ConditionExpression: aws.String("attribute_exists(product_id)"),
			},
		},
	}
}

func (s *Store) deleteItems(id, category string) []types.TransactWriteItem {
	return []types.TransactWriteItem{
		{
			Delete: &types.Delete{
				TableName: &s.productsTable,
				Key: map[string]types.AttributeValue{
					"id":       &types.AttributeValueMemberS{Value: id},
					"category": &types.AttributeValueMemberS{Value: category},
				},
			},
		},
		{
			Delete: &types.Delete{
				TableName: &s.stocksTable,
				Key: map[string]types.AttributeValue{
					"product_id": &types.AttributeValueMemberS{Value: id},
				},
			},
		},
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// mapWriteErr folds the SDK's conditional-failure shapes into ErrConflict
// so callers can distinguish "row vanished" from transport errors.
func mapWriteErr(err error) error {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
		return fmt.Errorf("transaction canceled: %w", err)
	}
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
