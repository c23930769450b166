// Package model defines shared data types used across the trade relay.
//
// Conventions:
//   - Quote fields on Market are fixed-point strings exactly as broadcast to UI clients
//     (prices 5 dp, change percent 2 dp).
//   - Money on User and Trade is decimal.Decimal; closing fields are optional until the trade closes.
//   - IDs: opaque strings (client ids double as user ids, trade ids are UUIDs).
package model
