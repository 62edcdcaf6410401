package v1

import (
	"github.com/gorilla/mux"

	"ocpp-engine/internal/api/v1/handlers"
	"ocpp-engine/internal/services"
)

// Services bundles what the v1 API is served from.
type Services struct {
	Role              string
	ChargePoints      *services.ChargePointService
	Transactions      *services.TransactionService
	Operations        *services.OperationService
	RemoteTransaction *services.RemoteTransactionService
	Configuration     *services.ConfigurationService
	TriggerMessage    *services.TriggerMessageService
}

// RegisterRoutes registers all v1 API routes
func RegisterRoutes(router *mux.Router, s Services) {
	healthHandler := handlers.NewHealthHandler(s.Role)
	connectedClientsHandler := handlers.NewConnectedClientsHandler(s.ChargePoints)
	chargePointsHandler := handlers.NewChargePointsHandler(s.ChargePoints)
	transactionsHandler := handlers.NewTransactionsHandler(s.Transactions, s.RemoteTransaction)
	configurationHandler := handlers.NewConfigurationHandler(s.Configuration)
	operationsHandler := handlers.NewOperationsHandler(s.Operations)

	// Health and system endpoints
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/clients", connectedClientsHandler.GetConnectedClients).Methods("GET")

	v1Router := router.PathPrefix("/api/v1").Subrouter()

	// Charge point management
	v1Router.HandleFunc("/chargepoints", chargePointsHandler.GetChargePoints).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}", chargePointsHandler.GetChargePoint).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}/connectors", chargePointsHandler.GetConnectors).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}/connectors/{connectorID}", chargePointsHandler.GetConnector).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}/status", chargePointsHandler.GetChargePointStatus).Methods("GET")

	// Generic operations
	v1Router.HandleFunc("/operations", operationsHandler.ListOperations).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}/operations/{action}", operationsHandler.ExecuteOperation).Methods("POST")
	v1Router.HandleFunc("/chargepoints/{clientID}/trigger", handlers.TriggerMessageHandler(s.TriggerMessage)).Methods("POST")

	// Transaction management
	v1Router.HandleFunc("/transactions", transactionsHandler.GetTransactions).Methods("GET")
	v1Router.HandleFunc("/transactions/remote-start", transactionsHandler.RemoteStartTransaction).Methods("POST")
	v1Router.HandleFunc("/transactions/remote-stop", transactionsHandler.RemoteStopTransaction).Methods("POST")
	v1Router.HandleFunc("/transactions/{transactionID}", transactionsHandler.GetTransaction).Methods("GET")

	// Live configuration management
	v1Router.HandleFunc("/chargepoints/{clientID}/configuration", configurationHandler.GetLiveConfiguration).Methods("GET")
	v1Router.HandleFunc("/chargepoints/{clientID}/configuration", configurationHandler.ChangeLiveConfiguration).Methods("PUT")
}
