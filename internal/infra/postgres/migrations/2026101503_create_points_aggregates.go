package migrations

import _ "embed"

//go:embed sql/2026101503_create_points_aggregates.up.sql
var createPointsAggregatesSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createPointsAggregatesSQL),
		execSQL(`DROP TABLE IF EXISTS points_aggregates`),
	)
}
