package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

// Mongo is the production Store backed by a MongoDB collection.
type Mongo struct {
	collection *mongo.Collection
}

// NewMongo wraps the transactions collection of the given database.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{collection: db.Collection("transactions")}
}

// EnsureIndexes creates the lookup and uniqueness indexes the access
// patterns rely on. Safe to run on every startup.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "payment_method", Value: 1}, {Key: "external_transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"external_transaction_id": bson.M{"$exists": true, "$type": "string"}},
			),
		},
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"idempotency_key": bson.M{"$exists": true, "$type": "string"}},
			),
		},
		{Keys: bson.D{{Key: "merchant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_on", Value: -1}}},
		{Keys: bson.D{{Key: "original_transaction_id", Value: 1}}},
		{Keys: bson.D{{Key: "settlement_id", Value: 1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Printf("Failed to create transaction indexes: %v", err)
		return fmt.Errorf("failed to create transaction indexes: %v", err)
	}
	return nil
}

func (s *Mongo) Create(ctx context.Context, tx *models.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			log.Printf("Duplicate transaction insert rejected: id=%s externalId=%s", tx.TransactionID, tx.ExternalTransactionID)
			return fmt.Errorf("transaction already exists: %w", errs.ErrConflict)
		}
		return fmt.Errorf("failed to insert transaction %s: %v", tx.TransactionID, err)
	}
	return nil
}

func (s *Mongo) FindByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.findOne(ctx, bson.M{"_id": transactionID})
}

func (s *Mongo) FindByExternalID(ctx context.Context, method models.PaymentMethod, externalID string) (*models.Transaction, error) {
	return s.findOne(ctx, bson.M{"payment_method": method, "external_transaction_id": externalID})
}

func (s *Mongo) FindByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	return s.findOne(ctx, bson.M{"idempotency_key": key})
}

func (s *Mongo) findOne(ctx context.Context, filter bson.M) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tx models.Transaction
	if err := s.collection.FindOne(ctx, filter).Decode(&tx); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("transaction: %w", errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %v", err)
	}
	return &tx, nil
}

func (s *Mongo) FindByOriginalID(ctx context.Context, originalID string) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := s.collection.Find(ctx, bson.M{"original_transaction_id": originalID},
		options.Find().SetSort(bson.M{"created_on": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch refunds for %s: %v", originalID, err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode refunds for %s: %v", originalID, err)
	}
	return txs, nil
}

func (s *Mongo) List(ctx context.Context, filter ListFilter) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{}
	if filter.MerchantID != "" {
		query["merchant_id"] = filter.MerchantID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.StartDate != nil && filter.EndDate != nil {
		query["created_on"] = bson.M{"$gte": *filter.StartDate, "$lte": *filter.EndDate}
	}

	cur, err := s.collection.Find(ctx, query, options.Find().SetSort(bson.M{"created_on": -1}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %v", err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %v", err)
	}
	return txs, nil
}

func (s *Mongo) FindUnsettled(ctx context.Context, method models.PaymentMethod, windowStart, windowEnd time.Time) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := bson.M{
		"payment_method":   method,
		"transaction_type": models.TypeCharge,
		"status":           models.StatusProviderSuccess,
		"settlement_id":    bson.M{"$exists": false},
		"created_on":       bson.M{"$gte": windowStart, "$lte": windowEnd},
	}
	cur, err := s.collection.Find(ctx, query, options.Find().SetSort(bson.M{"created_on": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsettled transactions: %v", err)
	}
	defer cur.Close(ctx)

	var txs []models.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode unsettled transactions: %v", err)
	}
	return txs, nil
}

func (s *Mongo) SetExternalID(ctx context.Context, transactionID, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": transactionID},
		bson.M{"$set": bson.M{"external_transaction_id": externalID, "updated_on": time.Now()}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("external reference %s already in use: %w", externalID, errs.ErrConflict)
		}
		return fmt.Errorf("failed to set external id on %s: %v", transactionID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, errs.ErrNotFound)
	}
	return nil
}

func (s *Mongo) TransitionStatus(ctx context.Context, transactionID string, to models.Status, txError string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"status": to, "updated_on": time.Now()}
	if txError != "" {
		set["transaction_error"] = txError
	}
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": transactionID, "status": bson.M{"$in": to.Predecessors()}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition %s to %s: %v", transactionID, to, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Mongo) ReserveRefund(ctx context.Context, chargeID string, amount, originalAmount float64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx,
		bson.M{
			"_id":              chargeID,
			"transaction_type": models.TypeCharge,
			"refunded_amount":  bson.M{"$lte": originalAmount - amount},
		},
		bson.M{
			"$inc": bson.M{"refunded_amount": amount},
			"$set": bson.M{"updated_on": time.Now()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve refund on %s: %v", chargeID, err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Mongo) ReleaseRefund(ctx context.Context, chargeID string, amount float64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": chargeID},
		bson.M{
			"$inc": bson.M{"refunded_amount": -amount},
			"$set": bson.M{"updated_on": time.Now()},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to release refund reservation on %s: %v", chargeID, err)
	}
	return nil
}

func (s *Mongo) AppendRefundLegs(ctx context.Context, chargeID string, customer, merchant *models.RefundLegEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	push := bson.M{}
	if customer != nil {
		push["customer_refund_response"] = customer
	}
	if merchant != nil {
		push["merchant_refund_response"] = merchant
	}
	if len(push) == 0 {
		return nil
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": chargeID},
		bson.M{"$push": push, "$set": bson.M{"updated_on": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to append refund legs on %s: %v", chargeID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %s: %w", chargeID, errs.ErrNotFound)
	}
	return nil
}

func (s *Mongo) MarkSettled(ctx context.Context, transactionIDs []string, settlementID string, settledAt time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := s.collection.UpdateMany(ctx,
		bson.M{
			"_id":           bson.M{"$in": transactionIDs},
			"settlement_id": bson.M{"$exists": false},
		},
		bson.M{"$set": bson.M{
			"settlement_id":     settlementID,
			"settlement_status": models.SettlementSettled,
			"settlement_date":   settledAt,
			"status":            models.StatusSettlementSuccessful,
			"updated_on":        time.Now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark settlement %s: %v", settlementID, err)
	}
	return res.ModifiedCount, nil
}
