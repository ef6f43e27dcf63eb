package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/sim-coordinator/internal/model"
)

// resultsPayload is what a worker reports after each tick.
type resultsPayload struct {
	Tick     int `json:"tick"`
	Agents   int `json:"agents"`
	Infected int `json:"infected"`
}

// simWorker is the state of one simulated worker.
type simWorker struct {
	id        model.WorkerID
	agents    int
	infected  int
	started   bool
	tickDelay time.Duration
	rng       *rand.Rand
}

func newSimWorker(id model.WorkerID, agents int, tickDelay time.Duration) *simWorker {
	return &simWorker{
		id:        id,
		agents:    agents,
		infected:  1,
		tickDelay: tickDelay,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

func (w *simWorker) registration() model.Message {
	return model.Message{Type: model.MessageTypeRegistration, SenderID: w.id}
}

// handle returns the replies to one coordinator message.
func (w *simWorker) handle(ctx context.Context, msg model.Message) ([]model.Message, error) {
	switch msg.Type {
	case model.MessageTypeStart:
		w.started = true
		return nil, nil

	case model.MessageTypeClear:
		w.infected = 0
		return nil, nil

	case model.MessageTypeAddAgent:
		w.agents++
		return nil, nil

	case model.MessageTypeTick:
		if !w.started {
			return nil, fmt.Errorf("tick before start")
		}
		tick := int(gjson.GetBytes(msg.Payload, "tick").Int())

		if w.tickDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.tickDelay):
			}
		}
		w.step()

		results, err := json.Marshal(resultsPayload{Tick: tick, Agents: w.agents, Infected: w.infected})
		if err != nil {
			return nil, err
		}
		tickEnd, err := json.Marshal(map[string]int{"tick": tick})
		if err != nil {
			return nil, err
		}
		return []model.Message{
			{Type: model.MessageTypeResults, SenderID: w.id, Payload: results},
			{Type: model.MessageTypeTickEnd, SenderID: w.id, Payload: tickEnd},
		}, nil
	}
	return nil, nil
}

// step spreads the infection to a random share of the healthy agents.
func (w *simWorker) step() {
	healthy := w.agents - w.infected
	if healthy <= 0 || w.infected == 0 {
		return
	}
	w.infected += w.rng.IntN(min(healthy, w.infected) + 1)
}
