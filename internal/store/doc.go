// Package store defines persistence contracts that sit beside watch.StateStore
// (check history) and the polling change feed used by stores that cannot push
// changes. Implementations live under internal/storage; this package must not
// import database drivers or concrete clients.
package store
