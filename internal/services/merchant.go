package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/zamapay/payrail/internal/errs"
	"github.com/zamapay/payrail/internal/models"
)

type MerchantService struct {
	collection *mongo.Collection
}

func NewMerchantService(db *mongo.Database) *MerchantService {
	return &MerchantService{collection: db.Collection("merchants")}
}

// CreateMerchant registers a merchant. The API key is stored bcrypt-hashed.
func (s *MerchantService) CreateMerchant(ctx context.Context, merchant *models.Merchant, apiKey string) (string, error) {
	if merchant.Name == "" || merchant.MobileNo == "" {
		return "", fmt.Errorf("name and mobileNo are required: %w", errs.ErrValidation)
	}
	if apiKey == "" {
		return "", fmt.Errorf("apiKey is required: %w", errs.ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %v", err)
	}
	merchant.ID = primitive.NewObjectID()
	merchant.HAPIKey = string(hashed)
	merchant.CreatedAt = time.Now()

	result, err := s.collection.InsertOne(ctx, merchant)
	if err != nil {
		return "", fmt.Errorf("failed to create merchant: %v", err)
	}
	return result.InsertedID.(primitive.ObjectID).Hex(), nil
}

// GetMerchant fetches a merchant by id.
func (s *MerchantService) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid merchant id %s: %w", id, errs.ErrValidation)
	}

	var merchant models.Merchant
	err = s.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&merchant)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("merchant %s: %w", id, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch merchant %s: %v", id, err)
	}
	return &merchant, nil
}

// MerchantList returns all merchants without their key hashes.
func (s *MerchantService) MerchantList(ctx context.Context) ([]models.Merchant, error) {
	projection := bson.D{{Key: "api_key", Value: 0}}
	cur, err := s.collection.Find(ctx, bson.D{}, options.Find().SetProjection(projection))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch merchants: %v", err)
	}
	defer cur.Close(ctx)

	var merchants []models.Merchant
	if err := cur.All(ctx, &merchants); err != nil {
		return nil, fmt.Errorf("failed to decode merchants: %v", err)
	}
	return merchants, nil
}

// VerifyAPIKey checks a merchant's API key for token issuance.
func (s *MerchantService) VerifyAPIKey(ctx context.Context, merchantID, apiKey string) (*models.Merchant, error) {
	merchant, err := s.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(merchant.HAPIKey), []byte(apiKey)); err != nil {
		return nil, fmt.Errorf("invalid api key: %w", errs.ErrValidation)
	}
	return merchant, nil
}

// PayoutWallet resolves the mobile wallet the settlement job disburses to.
func (s *MerchantService) PayoutWallet(ctx context.Context, merchantID string) (string, error) {
	merchant, err := s.GetMerchant(ctx, merchantID)
	if err != nil {
		return "", err
	}
	if merchant.MobileNo == "" {
		return "", fmt.Errorf("merchant %s has no payout wallet: %w", merchantID, errs.ErrConflict)
	}
	return merchant.MobileNo, nil
}
