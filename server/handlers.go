package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"leader-elector/events"
	"leader-elector/leaderelection/resourcelock"
)

// DefaultMaxPaginationSize is the maximum number of entries returned if the query params are not provided in API request.
const (
	DefaultMaxPaginationSize = 25
	searchEventsQuery        = `
{
  "query": {
    "match_all": {}
  },
  "sort": [
    {
      "@timestamp": {
        "order": "desc"
      }
    }
  ],
  "track_total_hits": true,
  "from": %d,
  "size": %d
}`
)

// healthz fails once the elector believes it leads but could not renew in time.
func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.watchdog.Check(r); err != nil {
		log.Error().Err(err).Str("check", s.watchdog.Name()).Msg("health check failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte("ok\n"))
}

// leaderResponse defines the response schema of GET /leader
type leaderResponse struct {
	Identity string          `json:"identity"`
	State    string          `json:"state"`
	Leader   string          `json:"leader"`
	Record   json.RawMessage `json:"record,omitempty"`
}

// leader returns this candidate's view of the election. The record is in its stored wire format.
func (s *server) leader(w http.ResponseWriter, r *http.Request) {
	observed := s.elector.ObservedRecord()
	resp := &leaderResponse{
		Identity: s.config.Identity,
		State:    s.elector.State().String(),
		Leader:   observed.HolderIdentity,
	}
	if observed.HolderIdentity != "" {
		raw, err := resourcelock.EncodeRecord(observed)
		if err != nil {
			log.Error().Err(err).Msg("unable to encode the observed record")
			http.Error(w, "unable to encode the observed record", http.StatusInternalServerError)
			return
		}
		resp.Record = json.RawMessage(raw)
	}

	responseData, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("unable to process the response data")
		http.Error(w, "unable to process the response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseData)
}

// fetchEventsPaginated returns the recorded leadership events in a paginated response sorted in
// descending order of their timestamp.
// Request formats: (can be passed with 2 query params 1. pagination-from 2. pagination-size )
// GET /events
// returns the latest 25 events (DefaultMaxPaginationSize)
//
// GET /events?pagination-from=100&pagination-size=30
// returns 30 events starting from 100+1
//
// Response Type: eventsResponse
func (s *server) fetchEventsPaginated(w http.ResponseWriter, r *http.Request) {
	paginationFrom, paginationSize := r.URL.Query().Get("pagination-from"), r.URL.Query().Get("pagination-size")
	var err error
	// start with default if unspecified in query params
	queryFrom, querySize := 0, DefaultMaxPaginationSize
	if paginationFrom != "" {
		queryFrom, err = strconv.Atoi(paginationFrom)
		if err != nil {
			log.Error().Err(err).Msg("failed to convert pagination-from string to integer")
			http.Error(w, "invalid query params value - 'pagination-from' ", http.StatusBadRequest)
			return
		}
	}

	if paginationSize != "" {
		querySize, err = strconv.Atoi(paginationSize)
		if err != nil {
			log.Error().Err(err).Msg("failed to convert pagination-size string to integer")
			http.Error(w, "invalid query params value - 'pagination-size' ", http.StatusBadRequest)
			return
		}
	}

	s.queryElasticsearch(r.Context(), w, fmt.Sprintf(searchEventsQuery, queryFrom, querySize))
}

// eventsResponse defines the response schema of GET /events
type eventsResponse struct {
	Count float64        `json:"total_count,omitempty"`
	Items []events.Event `json:"items"`
}

// queryElasticsearch runs query against the event index and writes the hits in eventsResponse schema.
func (s *server) queryElasticsearch(ctx context.Context, w http.ResponseWriter, query string) {
	resp, err := s.esc.Search(
		s.esc.Search.WithContext(ctx),
		s.esc.Search.WithIndex(s.config.ElasticConfig.Index),
		s.esc.Search.WithBody(
			strings.NewReader(query),
		),
	)
	if err != nil {
		log.Error().Err(err).Msg("event search failed")
		http.Error(w, "event search failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.IsError() {
		log.Error().Str("status", resp.Status()).Msg("event search rejected")
		http.Error(w, "event search rejected", http.StatusBadGateway)
		return
	}

	var result struct {
		Hits struct {
			Total struct {
				Value interface{} `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Error().Err(err).Msg("unable to read queried data")
		http.Error(w, "unable to read queried data", http.StatusInternalServerError)
		return
	}

	returnResponse := &eventsResponse{
		Items: make([]events.Event, 0, len(result.Hits.Hits)),
	}
	for _, hit := range result.Hits.Hits {
		var item events.Event
		if err := decodeEvent(hit.Source, &item); err != nil {
			log.Error().Err(err).Msg("unable to decode map structure")
			http.Error(w, "unable to decode map structure", http.StatusInternalServerError)
			return
		}
		returnResponse.Items = append(returnResponse.Items, item)
	}
	if count, err := getFloat(result.Hits.Total.Value); err != nil {
		log.Error().Err(err).Msg("invalid count type in response schema")
	} else {
		returnResponse.Count = count
	}

	responseData, err := json.Marshal(returnResponse)
	if err != nil {
		log.Error().Err(err).Msg("unable to process the response data")
		http.Error(w, "unable to process the response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseData)
}

func decodeEvent(source map[string]interface{}, item *events.Event) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		Result:     item,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(source)
}

// getFloat utility to convert numbers to float64
func getFloat(unk interface{}) (float64, error) {
	switch i := unk.(type) {
	case float64:
		return i, nil
	case float32:
		return float64(i), nil
	case int64:
		return float64(i), nil
	case int:
		return float64(i), nil
	case string:
		return strconv.ParseFloat(i, 64)
	default:
		return 0, nil
	}
}
