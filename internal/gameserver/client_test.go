package gameserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseExpectedIndexError(t *testing.T) {
	exp, got, ok := parseExpectedIndexError("Expected person 5, got 7")
	if !ok || exp != 5 || got != 7 {
		t.Fatalf("expected (5,7,true), got (%d,%d,%v)", exp, got, ok)
	}

	if _, _, ok := parseExpectedIndexError("some other error"); ok {
		t.Error("expected ok=false for a non-matching message")
	}
}

func TestDecodeResponseRunning(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"status":"running","nextPerson":{"personIndex":1,"attributes":{"x":true}},"admittedCount":1,"rejectedCount":0}`))
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.Status != StatusRunning || resp.NextPerson == nil || resp.NextPerson.PersonIndex != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDecodeResponseCompleted(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"status":"completed","admittedCount":3,"rejectedCount":5,"reason":"capacity filled"}`))
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.Status != StatusCompleted || resp.Reason != "capacity filled" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDecodeResponseExpectedIndexError(t *testing.T) {
	_, err := decodeResponse([]byte(`{"error":"Expected person 5, got 7"}`))
	var resyncErr *ExpectedIndexError
	if !errors.As(err, &resyncErr) {
		t.Fatalf("expected an *ExpectedIndexError, got %v", err)
	}
	if resyncErr.Expected != 5 || resyncErr.Got != 7 {
		t.Fatalf("unexpected resync error: %+v", resyncErr)
	}
}

func TestDecodeResponseOtherErrorIsStatusError(t *testing.T) {
	_, err := decodeResponse([]byte(`{"error":"game not found"}`))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected a *StatusError, got %v", err)
	}
}

func TestDoClassifiesServerErrorsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("down for maintenance"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.NewGame(context.Background(), "p1")
	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected a *TransientError for a 503, got %v", err)
	}
}

func TestDoPassesThroughSuccessfulBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"gameId":"g1","constraints":[{"attribute":"x","minCount":1}]}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	resp, err := client.NewGame(context.Background(), "p1")
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	if resp.GameID != "g1" || len(resp.Constraints) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestToScenarioCarriesPriorsForward(t *testing.T) {
	resp := NewGameResponse{
		GameID:      "g1",
		Constraints: []Constraint{{Attribute: "x", MinCount: 2}},
		AttributeStatistics: AttributeStatistics{
			RelativeFrequencies: map[string]float64{"x": 0.3},
			Correlations:        map[string]map[string]float64{"x": {"y": 0.5}},
		},
	}
	sc := resp.ToScenario(10)
	if sc.Capacity != 10 || sc.Constraints[0].MinCount != 2 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}
	if sc.RelativeFrequencies["x"] != 0.3 {
		t.Errorf("expected relative frequency to carry forward, got %v", sc.RelativeFrequencies["x"])
	}
	if sc.Correlations["x"]["y"] != 0.5 {
		t.Errorf("expected correlation to carry forward, got %v", sc.Correlations["x"]["y"])
	}
}
