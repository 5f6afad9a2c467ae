package middleware

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
	se "wuyrush.io/wave/errors"
)

// RespondJSON writes v as the JSON body of a response of given status
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("error writing response body")
	}
}

// RespondErr answers with the JSON body and status code associated with err
func RespondErr(w http.ResponseWriter, err *se.Err) {
	RespondJSON(w, err.StatusCode(), err.Body())
}
