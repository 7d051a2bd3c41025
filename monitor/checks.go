package monitor

// Check is a fixed comparison query run over both partitions of a source
type Check struct {
	Name        string
	Description string
	Query       string
}

// Checks is the catalog every scan runs, in report order
var Checks = []Check{
	{
		Name:        "volume_delta",
		Description: "Files present on both days whose row count or number of copies changed",
		Query: `WITH per_file AS (
	SELECT "partition", filename, SUM("rows")::BIGINT AS "rows", COUNT(*) AS copies
	FROM data
	GROUP BY "partition", filename
)
SELECT t.filename, t."rows" AS today_rows, l."rows" AS last_weekday_rows,
	t."rows" - l."rows" AS delta, t.copies AS today_copies, l.copies AS last_weekday_copies
FROM per_file t
JOIN per_file l ON t.filename = l.filename
WHERE t."partition" = 'today' AND l."partition" = 'last_weekday'
	AND (t."rows" <> l."rows" OR t.copies <> l.copies)
ORDER BY t.filename`,
	},
	{
		Name:        "late_upload",
		Description: "Files first uploaded today more than 4 hours later in the day than on the last weekday",
		Query: `WITH first_upload AS (
	SELECT "partition", filename, MIN(uploaded_at) AS uploaded_at
	FROM data
	WHERE uploaded_at IS NOT NULL
	GROUP BY "partition", filename
)
SELECT t.filename, t.uploaded_at AS today_uploaded_at, l.uploaded_at AS last_weekday_uploaded_at,
	t.uploaded_at::TIME - l.uploaded_at::TIME AS shift,
	ROUND(epoch(t.uploaded_at::TIME - l.uploaded_at::TIME) / 3600, 2)::DOUBLE AS hours_late
FROM first_upload t
JOIN first_upload l ON t.filename = l.filename
WHERE t."partition" = 'today' AND l."partition" = 'last_weekday'
	AND t.uploaded_at::TIME - l.uploaded_at::TIME > INTERVAL 4 HOUR
ORDER BY hours_late DESC, t.filename`,
	},
	{
		Name:        "only_today",
		Description: "Files received today but not on the last weekday",
		Query: `SELECT filename, "rows", status, uploaded_at
FROM data
WHERE "partition" = 'today'
	AND filename NOT IN (SELECT filename FROM data WHERE "partition" = 'last_weekday')
ORDER BY filename`,
	},
	{
		Name:        "only_last_weekday",
		Description: "Files received on the last weekday but missing today",
		Query: `SELECT filename, "rows", status, uploaded_at
FROM data
WHERE "partition" = 'last_weekday'
	AND filename NOT IN (SELECT filename FROM data WHERE "partition" = 'today')
ORDER BY filename`,
	},
	{
		Name:        "failed_or_stopped",
		Description: "Files that failed or were stopped",
		Query: `SELECT "partition", filename, status, status_message
FROM data
WHERE status IN ('failure', 'stopped')
ORDER BY "partition" DESC, filename`,
	},
	{
		Name:        "duplicated",
		Description: "Files flagged as duplicates",
		Query: `SELECT "partition", filename, "rows", uploaded_at
FROM data
WHERE is_duplicated
ORDER BY "partition" DESC, filename`,
	},
	{
		Name:        "empty",
		Description: "Files with no rows",
		Query: `SELECT "partition", filename, status, status_message
FROM data
WHERE "rows" = 0
ORDER BY "partition" DESC, filename`,
	},
}
