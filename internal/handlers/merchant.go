package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"

	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/services"
)

type MerchantHandler struct {
	service *services.MerchantService
}

func NewMerchantHandler(service *services.MerchantService) *MerchantHandler {
	return &MerchantHandler{service: service}
}

// CreateMerchant handles POST /api/merchant.
func (h *MerchantHandler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		MobileNo string `json:"mobileNo"`
		Email    string `json:"email"`
		APIKey   string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	merchant := &models.Merchant{Name: req.Name, MobileNo: req.MobileNo, Email: req.Email}
	id, err := h.service.CreateMerchant(r.Context(), merchant, req.APIKey)
	if err != nil {
		log.Printf("Failed to create merchant: %v", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"merchantId": id})
}

// GetMerchant handles GET /api/merchant/{merchantID}.
func (h *MerchantHandler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	merchantID := mux.Vars(r)["merchantID"]
	merchant, err := h.service.GetMerchant(r.Context(), merchantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merchant)
}

// GetMerchants handles GET /api/merchants.
func (h *MerchantHandler) GetMerchants(w http.ResponseWriter, r *http.Request) {
	merchants, err := h.service.MerchantList(r.Context())
	if err != nil {
		log.Printf("Failed to list merchants: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merchants)
}

// Token handles POST /api/merchant/token: verifies the merchant's API key
// and issues a bearer token for the transaction endpoints.
func (h *MerchantHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantID string `json:"merchantId"`
		APIKey     string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	merchant, err := h.service.VerifyAPIKey(r.Context(), req.MerchantID, req.APIKey)
	if err != nil {
		log.Printf("Token issuance refused for merchant %s: %v", req.MerchantID, err)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid credentials"})
		return
	}

	claims := jwt.MapClaims{
		"merchantId": merchant.ID.Hex(),
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtSecret)
	if err != nil {
		log.Printf("Failed to sign token for merchant %s: %v", req.MerchantID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to issue token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}
