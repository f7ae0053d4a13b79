// Package edm describes the entity data model of a remote service.
//
// A Schema is the neutral, serializable description of a service: entity
// type definitions, enum types and complex types. It is what the metadata
// reflector produces, what the CUE loader produces, what the schema cache
// stores and what the code emitter reads.
//
// An EntityType is the validated, immutable form of an EntityTypeDef.
// The Registry owns the EntityTypes of one service and resolves names
// (short or namespace-qualified) and entity-set names to them.
//
// Key invariants:
//   - property names are unique within a type
//   - key properties are primitive (or enum), single-valued and never nullable
//   - a type exposed through an entity set has at least one key
//   - navigation targets, enum types and complex types resolve in the registry
package edm
