// Package harness runs scripted conformance scenarios against a service
// backed by canned responses.
//
// A scenario names a schema, the responses the fake service replays, a
// flow of client operations and assertions over the requests the client
// sent. Scenarios are YAML files:
//
//	name: berlin_orders
//	description: "Filters are rendered and results materialized"
//	schema: ../../schemadef/testdata/northwind   # optional, CUE directory
//	dialect: v4
//	responses:
//	  - url: Orders?$filter=ShipCity%20eq%20%27Berlin%27
//	    body: {value: [{OrderID: 10248, ShipCity: Berlin, Priority: Normal}]}
//	flow:
//	  - op: query
//	    set: Orders
//	    where: [ShipCity=Berlin]
//	    expect:
//	      rows: 1
//	      results: [{OrderID: 10248}]
//	assertions:
//	  - type: request_sent
//	    method: GET
//	    url: Orders?$filter=ShipCity%20eq%20%27Berlin%27
//
// # Operations
//
//   - query: runs a query built from where, orderby, select, expand, top,
//     skip and count, following continuation links
//   - count: asks the service for the number of matches of where
//   - get: fetches one entity by key
//   - create: inserts a new entity with values
//   - update: fetches the entity by key, applies values and saves it
//   - delete: fetches the entity by key and deletes it
//
// An expect clause checks the row count, the inline or $count total, a
// subset of each returned row, or the kind of error the step ended with.
//
// # Assertion Types
//
//   - request_sent: a request with the method and URL was sent
//   - request_order: the URLs were requested in this order
//   - request_count: exactly count requests were sent, optionally of one method
//   - request_body: the body of a matching request contains the given fields
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory transport, so the recorded trace depends
// only on the scenario. RunWithGolden compares the trace with
// testdata/golden/<name>.golden.
package harness
