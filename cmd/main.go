package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zamapay/payrail/internal/config"
	"github.com/zamapay/payrail/internal/db"
	"github.com/zamapay/payrail/internal/events"
	"github.com/zamapay/payrail/internal/fees"
	"github.com/zamapay/payrail/internal/handlers"
	"github.com/zamapay/payrail/internal/models"
	"github.com/zamapay/payrail/internal/providers"
	"github.com/zamapay/payrail/internal/services"
	"github.com/zamapay/payrail/internal/store"
)

func main() {
	// Load .env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Error loading .env: %s", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	handlers.SetJWTSecret(cfg.JWTSecret)

	client, err := db.Connect(cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Disconnect(ctx, client); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	database := client.Database(cfg.MongoDatabase)

	txStore := store.NewMongo(database)
	if err := txStore.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("Failed to ensure indexes: %v", err)
	}

	registry := providers.NewRegistry()
	registry.Register(providers.NewCard(cfg.Card.BaseURL, cfg.Card.SecretKey))
	registry.Register(providers.NewMTN(cfg.MTN.BaseURL, cfg.MTN.APIUser, cfg.MTN.APIKey, cfg.MTN.SubscriptionKey, cfg.MTN.TargetEnv))
	registry.Register(providers.NewOrange(cfg.Orange.BaseURL, cfg.Orange.ClientID, cfg.Orange.ClientSecret, cfg.Orange.MerchantPin))

	promRegistry := prometheus.NewRegistry()
	publisher := events.NewPublisher(promRegistry)
	defer publisher.Stop()

	// CRM sync consumer: serialize the transition payload onto the outbound
	// queue. The downstream consumer owns its own dead-letter path.
	publisher.Subscribe(func(evt models.TransactionEvent) {
		payload, err := json.Marshal(evt)
		if err != nil {
			log.Printf("Failed to marshal CRM sync event for %s: %v", evt.TransactionID, err)
			return
		}
		log.Printf("CRM sync event: %s", string(payload))
	})

	calc := fees.NewCalculator(cfg.FeePercentage)
	merchantService := services.NewMerchantService(database)
	orchestrator := services.NewOrchestrator(txStore, registry, calc, publisher)
	reconciler := services.NewReconciler(txStore, registry, publisher)
	settlementJob := services.NewSettlementJob(txStore, registry, merchantService, publisher)

	transactionHandler := handlers.NewTransactionHandler(orchestrator, reconciler)
	webhookHandler := handlers.NewWebhookHandler(reconciler, map[models.PaymentMethod]string{
		models.MethodCard:   cfg.Card.WebhookToken,
		models.MethodMTN:    cfg.MTN.WebhookToken,
		models.MethodOrange: cfg.Orange.WebhookToken,
	})
	merchantHandler := handlers.NewMerchantHandler(merchantService)

	// Scheduled settlement: run the daily window for each mobile-money
	// provider on the configured interval.
	go func() {
		ticker := time.NewTicker(cfg.SettlementInterval)
		defer ticker.Stop()
		for range ticker.C {
			for _, provider := range []models.PaymentMethod{models.MethodMTN, models.MethodOrange} {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				if _, err := settlementJob.RunDaily(ctx, provider); err != nil {
					log.Printf("Settlement run failed for %s: %v", provider, err)
				}
				cancel()
			}
		}
	}()

	// Set up router
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")

	router.HandleFunc("/transaction/process/charge", transactionHandler.ProcessCharge).Methods("POST")
	router.HandleFunc("/transaction/process/refund", transactionHandler.ProcessRefund).Methods("POST")
	router.HandleFunc("/transaction/status/", transactionHandler.GetStatus).Methods("GET")
	router.HandleFunc("/transaction/verify/", transactionHandler.Verify).Methods("GET")
	router.HandleFunc("/transaction/list", transactionHandler.List).Methods("GET")

	router.HandleFunc("/webhooks/{provider}", webhookHandler.Handle).Methods("POST")

	router.HandleFunc("/api/merchant", merchantHandler.CreateMerchant).Methods("POST")
	router.HandleFunc("/api/merchants", merchantHandler.GetMerchants).Methods("GET")
	router.HandleFunc("/api/merchant/token", merchantHandler.Token).Methods("POST")
	router.HandleFunc("/api/merchant/{merchantID}", merchantHandler.GetMerchant).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	// Start server
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Printf("Server running on port %s", cfg.Port)
	log.Fatal(server.ListenAndServe())
}
