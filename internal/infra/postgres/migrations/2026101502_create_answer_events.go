package migrations

import _ "embed"

//go:embed sql/2026101502_create_answer_events.up.sql
var createAnswerEventsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createAnswerEventsSQL),
		execSQL(`DROP TABLE IF EXISTS answer_events; DROP FUNCTION IF EXISTS answer_events_append_only()`),
	)
}
