package models

// ChargePointStatusResponse represents the online status of a charge point
type ChargePointStatusResponse struct {
	ClientID string `json:"clientId"`
	Online   bool   `json:"online"`
}

// ConnectedClientsResponse represents connected clients information
type ConnectedClientsResponse struct {
	Clients []string `json:"clients"`
	Count   int      `json:"count"`
}

// ChargePointsResponse represents charge points collection
type ChargePointsResponse struct {
	ChargePoints interface{} `json:"chargePoints"`
	Count        int         `json:"count"`
}

// ConnectorsResponse represents connectors collection
type ConnectorsResponse struct {
	Connectors interface{} `json:"connectors"`
	Count      int         `json:"count"`
}

// TransactionsResponse represents transactions collection
type TransactionsResponse struct {
	Transactions interface{} `json:"transactions"`
	Count        int         `json:"count"`
}
