package grpcstore

import (
	"context"
	"sync"
)

// EndpointProvider lists reachable endpoints (host:port) for a fully
// qualified gRPC service name such as graphload.store.v1.Store.
// Implementations must be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// StaticEndpoints is a provider backed by a fixed map.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

// Endpoints serves every service from the same list.
func Endpoints(addrs ...string) *StaticEndpoints {
	return NewStaticEndpoints(map[string][]string{ServiceName: addrs})
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[service]
	if len(arr) == 0 {
		return nil, ErrNoEndpoints
	}
	return append([]string(nil), arr...), nil
}
