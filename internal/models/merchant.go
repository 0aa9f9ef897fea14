package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Merchant is a registered payee. The settlement job resolves each merchant
// group's payout wallet through this record.
type Merchant struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	MobileNo  string             `bson:"mobile_no" json:"mobileNo"`
	Email     string             `bson:"email" json:"email"`
	HAPIKey   string             `bson:"api_key" json:"-"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
}
