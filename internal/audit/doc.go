// Package audit keeps the command log: one row per light, ping or scene
// command issued through the API, with who issued it and how it ended.
//
// The log is append-only. Entries are listed newest first and can be
// filtered by action or target:
//
//	repo := audit.NewSQLiteRepository(db.DB)
//	res, err := repo.List(ctx, audit.Filter{Target: "light/123", Limit: 20})
package audit
