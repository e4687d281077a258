package validate

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const usageSchema = `{
	"type": "object",
	"properties": {
		"promptTokens": {"type": "integer", "minimum": 0},
		"outputTokens": {"type": "integer", "minimum": 0},
		"totalTokens":  {"type": "integer", "minimum": 0}
	}
}`

const chunkSchemaSrc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"text":  {"type": "string"},
		"usage": ` + usageSchema + `
	}
}`

const responseSchemaSrc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"text":  {"type": "string"},
		"usage": ` + usageSchema + `,
		"functionCalls": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"args": {"type": ["object", "null"]},
					"id":   {"type": "string"}
				}
			}
		}
	}
}`

var (
	chunkSchema    = jsonschema.MustCompileString("chunk.json", chunkSchemaSrc)
	responseSchema = jsonschema.MustCompileString("response.json", responseSchemaSrc)
)
