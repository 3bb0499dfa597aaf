package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/medflow/stockledger/pkg/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func queryString(r *http.Request, key string) *string {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	return &v
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.BadRequest("invalid " + key + " parameter")
	}
	return b, nil
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.BadRequest("invalid " + key + " parameter, expected RFC 3339")
	}
	return &t, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0, errors.BadRequest("invalid " + key + " parameter")
	}
	return v, nil
}
