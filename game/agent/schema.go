package agent

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Schema is a JSON schema object sent with each request.
type Schema map[string]any

const defaultSchemaCacheSize = 64

// BuildSchema returns the response schema for variant v. others lists the
// alive players a trust-bearing participant must assess.
func BuildSchema(v Variant, others []string) Schema {
	properties := map[string]any{
		"internal_dialogue": map[string]any{"type": "string"},
		"external_dialogue": map[string]any{"type": "string"},
		"decision":          map[string]any{"type": "string"},
	}
	required := []any{"internal_dialogue", "external_dialogue", "decision"}

	if v == VariantTrust {
		trustProps := make(map[string]any, len(others))
		trustRequired := make([]any, 0, len(others))
		for _, name := range others {
			trustProps[name] = map[string]any{
				"type": "object",
				"properties": map[string]any{
					"trust_reasoning": map[string]any{"type": "string"},
					"trust_score": map[string]any{
						"type":    "integer",
						"minimum": MinTrustScore,
						"maximum": MaxTrustScore,
					},
				},
				"required":             []any{"trust_reasoning", "trust_score"},
				"additionalProperties": false,
			}
			trustRequired = append(trustRequired, name)
		}
		properties["trust"] = map[string]any{
			"type":                 "object",
			"properties":           trustProps,
			"required":             trustRequired,
			"additionalProperties": false,
		}
		required = append(required, "trust")
	}

	return Schema{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// SchemaCache memoizes schemas by variant and roster. The roster only
// shrinks during a game, so a handful of entries covers a whole batch.
type SchemaCache struct {
	cache *lru.Cache[string, Schema]
}

func NewSchemaCache(size int) (*SchemaCache, error) {
	if size <= 0 {
		size = defaultSchemaCacheSize
	}
	c, err := lru.New[string, Schema](size)
	if err != nil {
		return nil, err
	}
	return &SchemaCache{cache: c}, nil
}

// Get returns the cached schema for (v, others), building it on a miss.
func (c *SchemaCache) Get(v Variant, others []string) Schema {
	if v != VariantTrust {
		others = nil
	}
	key := schemaKey(v, others)
	if s, ok := c.cache.Get(key); ok {
		return s
	}
	s := BuildSchema(v, others)
	c.cache.Add(key, s)
	return s
}

func (c *SchemaCache) Len() int { return c.cache.Len() }

func schemaKey(v Variant, others []string) string {
	names := append([]string(nil), others...)
	sort.Strings(names)
	return v.String() + "|" + strings.Join(names, ",")
}
