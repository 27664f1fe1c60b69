//
// Tencent is pleased to support the open source community by making trpc-dataflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-dataflow-go is licensed under the Apache License Version 2.0.
//
package envelope

import "fmt"

// MergeSchemas combines schemas produced by distinct predecessor nodes into
// one, preserving provenance. A field name is conflicting iff it appears in
// at least two input schemas with different source nodes; every occurrence
// of a conflicting name is rewritten to "{label}_{name}" where label is the
// human label of the field's source node (falling back to the node id).
// Non-conflicting fields keep their original name. SourceNodes is the
// deduplicated union of the inputs' SourceNodes.
func MergeSchemas(schemas []DataSchema, nodeLabels map[string]string) DataSchema {
	merged := DataSchema{Fields: []FieldDefinition{}}
	conflicts := conflictingNames(schemas)

	seenField := make(map[string]bool)
	seenSource := make(map[string]bool)
	for i, schema := range schemas {
		for _, field := range schema.Fields {
			out := field
			if conflicts[field.Name] {
				out.Name = prefixedName(field, schema, i, nodeLabels)
			}
			if seenField[out.Name] {
				continue
			}
			seenField[out.Name] = true
			merged.Fields = append(merged.Fields, out)
		}
		for _, src := range schema.SourceNodes {
			if src == "" || seenSource[src] {
				continue
			}
			seenSource[src] = true
			merged.SourceNodes = append(merged.SourceNodes, src)
		}
	}
	return merged
}

// MergeEnvelopes combines envelopes produced by distinct predecessor nodes.
// Data is the concatenation of the inputs' data in input order, with
// conflicting fields renamed per MergeSchemas. The merged metadata carries
// the merged schema, the union of sources, and the summed record count; it
// has no single producer so node_id, node_type, and custom stay empty.
func MergeEnvelopes(envelopes []*DataEnvelope, nodeLabels map[string]string) *DataEnvelope {
	if len(envelopes) == 0 {
		return Empty()
	}

	schemas := make([]DataSchema, len(envelopes))
	for i, env := range envelopes {
		schemas[i] = env.Metadata.Schema
	}
	conflicts := conflictingNames(schemas)

	merged := Empty()
	merged.Metadata.Schema = MergeSchemas(schemas, nodeLabels)

	seenSource := make(map[string]bool)
	for i, env := range envelopes {
		renames := make(map[string]string)
		for _, field := range schemas[i].Fields {
			if conflicts[field.Name] {
				renames[field.Name] = prefixedName(field, schemas[i], i, nodeLabels)
			}
		}

		for _, record := range env.Data {
			merged.Data = append(merged.Data, renameFields(record, renames))
		}
		merged.Metadata.RecordCount += env.Metadata.RecordCount

		for _, src := range env.Metadata.Sources {
			if src == "" || seenSource[src] {
				continue
			}
			seenSource[src] = true
			merged.Metadata.Sources = append(merged.Metadata.Sources, src)
		}
	}
	return merged
}

// conflictingNames returns the field names that appear in at least two input
// schemas with different source nodes.
func conflictingNames(schemas []DataSchema) map[string]bool {
	sources := make(map[string]map[string]bool)
	for _, schema := range schemas {
		for _, field := range schema.Fields {
			set, ok := sources[field.Name]
			if !ok {
				set = make(map[string]bool)
				sources[field.Name] = set
			}
			set[field.SourceNode] = true
		}
	}

	conflicts := make(map[string]bool)
	for name, set := range sources {
		if len(set) > 1 {
			conflicts[name] = true
		}
	}
	return conflicts
}

// prefixedName rewrites a conflicting field name to "{label}_{name}". The
// label is resolved from the field's source node; a field without provenance
// falls back to its schema's first source node, then to the input position.
func prefixedName(field FieldDefinition, schema DataSchema, position int, nodeLabels map[string]string) string {
	source := field.SourceNode
	if source == "" && len(schema.SourceNodes) > 0 {
		source = schema.SourceNodes[0]
	}
	label := nodeLabels[source]
	if label == "" {
		label = source
	}
	if label == "" {
		label = fmt.Sprintf("input%d", position+1)
	}
	return label + "_" + field.Name
}

func renameFields(record Record, renames map[string]string) Record {
	if len(renames) == 0 {
		return record
	}
	out := make(Record, len(record))
	for k, v := range record {
		if renamed, ok := renames[k]; ok {
			out[renamed] = v
			continue
		}
		out[k] = v
	}
	return out
}
