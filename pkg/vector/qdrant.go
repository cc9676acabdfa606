// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/visior/pkg/config"
)

// QdrantProvider implements Provider against a Qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client
}

// NewQdrantProvider creates a new Qdrant provider.
func NewQdrantProvider(cfg config.QdrantConfig) (*QdrantProvider, error) {
	useTLS := cfg.UseTLS != nil && *cfg.UseTLS

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantProvider{client: client}, nil
}

// Name returns the provider name.
func (p *QdrantProvider) Name() string {
	return "qdrant"
}

// Upsert adds or updates a point, creating the collection on first use.
func (p *QdrantProvider) Upsert(ctx context.Context, collection string, id string, vec []float32, metadata map[string]any) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(vec)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	payload := make(map[string]*qdrant.Value)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vec...),
		Payload: payload,
	}

	_, err = p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// Search runs ANN against the collection under the filter.
func (p *QdrantProvider) Search(ctx context.Context, collection string, vec []float32, topK int, filter *Filter) ([]Result, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if qf := buildQdrantFilter(filter); qf != nil {
		searchRequest.Filter = qf
	}

	pointsClient := p.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]Result, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		metadata := convertQdrantPayload(point.Payload)
		content, _ := metadata["content"].(string)
		results = append(results, Result{
			ID:       pointID(point.Id),
			Score:    float64(point.Score),
			Content:  content,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Scan lists points matching the filter via the scroll API.
func (p *QdrantProvider) Scan(ctx context.Context, collection string, filter *Filter, limit int) ([]Result, error) {
	// Scroll's server default is tiny; limit 0 means "all" to callers.
	scrollLimit := uint32(limit)
	if limit <= 0 {
		scrollLimit = 10000
	}
	points, err := p.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         buildQdrantFilter(filter),
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		metadata := convertQdrantPayload(point.Payload)
		content, _ := metadata["content"].(string)
		results = append(results, Result{
			ID:       pointID(point.Id),
			Content:  content,
			Metadata: metadata,
		})
	}
	return results, nil
}

// Close closes the Qdrant client.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// buildQdrantFilter converts the predicate tree into a Qdrant filter.
func buildQdrantFilter(filter *Filter) *qdrant.Filter {
	if filter == nil || len(filter.Must) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filter.Must))
	for _, cond := range filter.Must {
		var match *qdrant.Match
		if len(cond.In) > 0 {
			match = &qdrant.Match{
				MatchValue: &qdrant.Match_Keywords{
					Keywords: &qdrant.RepeatedStrings{Strings: cond.In},
				},
			}
		} else {
			match = &qdrant.Match{
				MatchValue: &qdrant.Match_Keyword{
					Keyword: fmt.Sprint(cond.Equals),
				},
			}
		}

		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   cond.Field,
					Match: match,
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

// convertQdrantPayload converts a Qdrant payload into a plain metadata map.
func convertQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[key] = v.BoolValue
		case *qdrant.Value_ListValue:
			if v.ListValue != nil {
				list := make([]any, len(v.ListValue.Values))
				for i, item := range v.ListValue.Values {
					switch itemVal := item.Kind.(type) {
					case *qdrant.Value_StringValue:
						list[i] = itemVal.StringValue
					case *qdrant.Value_IntegerValue:
						list[i] = itemVal.IntegerValue
					case *qdrant.Value_DoubleValue:
						list[i] = itemVal.DoubleValue
					case *qdrant.Value_BoolValue:
						list[i] = itemVal.BoolValue
					default:
						list[i] = item
					}
				}
				metadata[key] = list
			}
		default:
			metadata[key] = value
		}
	}
	return metadata
}

// Ensure QdrantProvider implements Provider.
var _ Provider = (*QdrantProvider)(nil)
