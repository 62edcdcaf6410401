package helpers

import (
	"encoding/json"
	"net/http"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
)

// SendJSONResponse sends a JSON response with the given status code
func SendJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// SendTableResponse renders t as plain text.
func SendTableResponse(w http.ResponseWriter, statusCode int, t table.Writer) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	t.SetOutputMirror(w)
	t.Render()
}

// WantsTable reports whether the caller asked for ?format=table.
func WantsTable(r *http.Request) bool {
	return r.URL.Query().Get("format") == "table"
}
