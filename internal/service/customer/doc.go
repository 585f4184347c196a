// Package customer implements customer intake and order ingestion.
//
// Customers are the population segments are cut from. The service validates
// intake, keeps the derived aggregates (TotalSpent, LastOrder) consistent with
// the order list, and exposes Find so the segment service can run a parsed
// filter against storage.
//
// The service layer depends on the Repository interface defined in
// repository.go. Implementations live in repository/postgres/ and
// repository/memory/.
package customer
