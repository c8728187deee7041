package model

import (
	"encoding/json"
	"time"
)

// Request and response types of the HTTP surface.

type FlightIn struct {
	FlightID      string     `json:"flightId" validate:"required"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
	// WeightMap holds one weight per slot in ascending slot time order.
	WeightMap []float64 `json:"weightMap" validate:"required,min=1"`
	// WeightMapTwo is the second objective of multi objective and aggregated runs.
	WeightMapTwo []float64 `json:"weightMapTwo,omitempty"`
}

type SlotIn struct {
	SlotID string    `json:"slotId,omitempty"`
	Time   time.Time `json:"time" validate:"required"`
}

type OptimizationRequest struct {
	OptID                 string          `json:"optId,omitempty" validate:"omitempty,uuid"`
	Method                string          `json:"method,omitempty" validate:"omitempty,oneof=SINGLE_OBJECTIVE MULTI_OBJECTIVE AGGREGATED"`
	FitnessMethod         string          `json:"fitnessMethod,omitempty" validate:"omitempty,oneof=ORDER ORDER_QUANTILES ABOVE_ABSOLUTE ABOVE_RELATIVE FITNESS_RANGE_QUANTILES ACTUAL_VALUES"`
	Mode                  string          `json:"optimizationMode,omitempty" validate:"omitempty,oneof=PRIVACY_PRESERVING NON_PRIVACY_PRESERVING DEMONSTRATION BENCHMARKING"`
	Flights               []FlightIn      `json:"flights" validate:"required,min=1,dive"`
	Slots                 []SlotIn        `json:"slots" validate:"required,min=1,dive"`
	InitialFlightSequence []string        `json:"initialFlightSequence,omitempty"`
	Parameters            json.RawMessage `json:"parameters,omitempty"`
	// Start runs the optimization right after creation.
	Start bool `json:"start,omitempty"`
}

type OptimizationOut struct {
	OptID     string    `json:"optId"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResultOut is one allocation: flights listed in the order of their slots.
type ResultOut struct {
	OptID                   string      `json:"optId"`
	OptimizedFlightSequence []string    `json:"optimizedFlightSequence"`
	SlotIDs                 []string    `json:"slotIds"`
	Slots                   []time.Time `json:"slots"`
	Fitness                 []float64   `json:"fitness"`
	Violations              int         `json:"violations"`
}

type AssignmentRequest struct {
	Flights   []FlightIn `json:"flights" validate:"required,min=1,dive"`
	Slots     []SlotIn   `json:"slots" validate:"required,min=1,dive"`
	Objective int        `json:"objective,omitempty" validate:"min=0,max=1"`
	// Granularity is the number of weight steps of the estimated front.
	Granularity int `json:"granularity,omitempty" validate:"omitempty,min=1,max=10000"`
}

type OptimumOut struct {
	FlightSequence []string `json:"flightSequence"`
	Value          float64  `json:"value"`
}

type FrontOut struct {
	TheoreticalMaxima []float64    `json:"theoreticalMaxima"`
	Front             [][2]float64 `json:"front"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url" validate:"required,url"`
	Events []string `json:"events" validate:"required,min=1,dive,oneof=optimization.finished optimization.aborted optimization.failed"`
	Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"-"`
}

type List[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
