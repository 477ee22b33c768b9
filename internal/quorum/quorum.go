package quorum

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultPerHostTimeout bounds each host's answer. Every host gets its
	// own deadline, derived from the caller's context.
	DefaultPerHostTimeout = 2 * time.Second
)

// AskFunc queries a single host.
type AskFunc[T comparable] func(ctx context.Context, host string) (T, error)

// Result represents the outcome of an agreement round.
type Result[T comparable] struct {
	Success      bool
	Value        T // most common answer
	Agreeing     int
	Responses    int
	Required     int
	Hosts        int
	Dissent      map[string]T // hosts whose answer differs from Value
	ErrorMessage string
}

type answer[T comparable] struct {
	value T
	err   error
	done  bool
}

// Agree asks every host in parallel and succeeds when at least required of
// them return the same answer. required <= 0 means a majority of hosts. When
// two answers are equally common, Value is the one that reached that count
// first in host order.
func Agree[T comparable](ctx context.Context, hosts []string, required int, ask AskFunc[T]) Result[T] {
	if len(hosts) == 0 {
		return Result[T]{
			Success:      false,
			ErrorMessage: "no hosts provided",
		}
	}

	if required <= 0 {
		required = (len(hosts) / 2) + 1 // default: majority
	}

	if required > len(hosts) {
		return Result[T]{
			Success:      false,
			Required:     required,
			Hosts:        len(hosts),
			ErrorMessage: fmt.Sprintf("required=%d exceeds host count=%d", required, len(hosts)),
		}
	}

	var (
		mu      sync.Mutex
		answers = make([]answer[T], len(hosts))
		wg      sync.WaitGroup
	)

	// Fanout to all hosts, each under its own timeout
	for i, host := range hosts {
		wg.Add(1)
		go func(idx int, h string) {
			defer wg.Done()

			hostCtx, cancel := context.WithTimeout(ctx, DefaultPerHostTimeout)
			defer cancel()
			value, err := ask(hostCtx, h)
			mu.Lock()
			defer mu.Unlock()
			answers[idx] = answer[T]{value: value, err: err, done: true}
		}(i, host)
	}

	// Wait for all responses
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All hosts responded
	case <-ctx.Done():
		// Parent context cancelled
		return Result[T]{
			Success:      false,
			Required:     required,
			Hosts:        len(hosts),
			ErrorMessage: fmt.Sprintf("context cancelled: %v", ctx.Err()),
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return tally(hosts, answers, required)
}

// tally must be called with every answer recorded.
func tally[T comparable](hosts []string, answers []answer[T], required int) Result[T] {
	counts := make(map[T]int)
	var (
		best      T
		bestCount int
		responses int
		errs      []error
	)
	for i, a := range answers {
		if !a.done {
			continue
		}
		if a.err != nil {
			errs = append(errs, fmt.Errorf("host %s: %w", hosts[i], a.err))
			continue
		}
		responses++
		counts[a.value]++
		if counts[a.value] > bestCount {
			best = a.value
			bestCount = counts[a.value]
		}
	}

	res := Result[T]{
		Value:     best,
		Agreeing:  bestCount,
		Responses: responses,
		Required:  required,
		Hosts:     len(hosts),
	}
	for i, a := range answers {
		if a.done && a.err == nil && a.value != best {
			if res.Dissent == nil {
				res.Dissent = make(map[string]T)
			}
			res.Dissent[hosts[i]] = a.value
		}
	}

	if bestCount >= required {
		res.Success = true
		return res
	}

	// Agreement not reached
	res.ErrorMessage = fmt.Sprintf("agreement not reached: agreeing=%d required=%d responses=%d hosts=%d",
		bestCount, required, responses, len(hosts))
	if len(errs) > 0 {
		res.ErrorMessage += fmt.Sprintf(" errors=%v", errs[:min(3, len(errs))])
	}
	return res
}
