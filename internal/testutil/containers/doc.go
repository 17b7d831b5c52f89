// Package containers starts the brokers and servers AquaSentinel talks to in
// production so integration tests can run against the real thing:
//
//   - MySQL 8 for the gorm repositories
//   - Eclipse Mosquitto for sensor reading ingestion
//   - ntfy as a push target for the shoutrrr notification handler
//
// Every file in this package carries the "integration" build tag, so the
// helpers only compile for
//
//	go test -tags=integration ./...
//
// Containers are started once per package in TestMain and torn down after
// m.Run; tests isolate themselves with unique topics or by resetting tables.
package containers
