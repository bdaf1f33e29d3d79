package grpcstore

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/graphload/internal/query"
)

// Requests and responses travel as google.protobuf.Struct:
//
//	request:  the JSON form of query.Spec
//	response: {"records": [ {...}, ... ]}
//
// Numbers arrive as float64 on the other side.

func encodeSpec(s query.Spec) (*structpb.Struct, error) {
	m, err := toMap(s)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func decodeSpec(st *structpb.Struct) (query.Spec, error) {
	var s query.Spec
	if err := fromMap(st.AsMap(), &s); err != nil {
		return query.Spec{}, err
	}
	return s, nil
}

func encodeRecords(recs []query.Record) (*structpb.Struct, error) {
	list := make([]any, len(recs))
	for i, r := range recs {
		m, err := toMap(r)
		if err != nil {
			return nil, err
		}
		list[i] = m
	}
	return structpb.NewStruct(map[string]any{"records": list})
}

func decodeRecords(st *structpb.Struct) ([]query.Record, error) {
	raw, ok := st.AsMap()["records"].([]any)
	if !ok {
		return nil, fmt.Errorf("grpcstore: response without records")
	}
	out := make([]query.Record, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("grpcstore: record %d is %T, not an object", i, r)
		}
		out[i] = m
	}
	return out, nil
}

// toMap normalizes v through JSON so that every value is one structpb
// accepts (time.Time, json.Number and named types included).
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpcstore: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("grpcstore: encode: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any, v any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("grpcstore: decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("grpcstore: decode: %w", err)
	}
	return nil
}
