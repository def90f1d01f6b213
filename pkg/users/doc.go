// Package users holds the persistent model of the accounts service: users,
// their audit history, and the gorm repository that stores both.
//
// # Models
//
//   - User: an account with its password hash, optional avatar and cover
//     images, the TOTP enrolment state and a pending password recovery token.
//   - UserHistory: one audit row per state change, recording the affected
//     user, the operator acting on their behalf, the event name and a public
//     snapshot of the user at that moment.
//
// # Repository
//
// Repository opens sqlite or postgres through gorm, retries the connection
// with exponential backoff, migrates the schema and seeds the inactive system
// user that acts as operator for self sign-ups. Lookups that find nothing
// return nil without an error.
//
// Listings accept a datatable.Query; the filterable fields of each listing are
// described by UserColumns and HistoryColumns.
package users
