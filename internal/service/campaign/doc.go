// Package campaign implements campaign fan-out.
//
// Create resolves the union of one or more frozen segments, renders the
// message for every recipient and records one DeliveryLog per recipient.
// In sync mode the vendor is called inline and the campaign is written with
// final counters; in async mode logs are written PENDING and resolved later
// by the delivery worker through Repository.Resolve.
//
// The service layer depends on repository interfaces defined in this package
// and should never import from api/. Repository implementations live in
// repository/postgres/ and repository/memory/.
package campaign
