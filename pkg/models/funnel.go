package models

// StageBreakdown counts the leads of one source per funnel stage.
// Only the stages the dashboard charts are broken out; everything
// that does not classify lands in Unknown.
type StageBreakdown struct {
	New               int `json:"new"`
	Qualified         int `json:"qualified"`
	Converted         int `json:"converted"`
	Communication     int `json:"communication"`
	MeetingsScheduled int `json:"meetingsScheduled"`
	Junk              int `json:"junk"`
	Unknown           int `json:"unknown"`
}

// SourceGroup is one row of the per-source funnel report. Conversion
// fields are preformatted with one decimal so the dashboard renders
// them verbatim.
type SourceGroup struct {
	SourceID   string `json:"sourceId"`
	SourceName string `json:"sourceName"`
	TotalLeads int    `json:"totalLeads"`

	MeetingsHeld                        int    `json:"meetingsHeld"`
	Comments                            int    `json:"comments"`
	CommentsConversion                  string `json:"commentsConversion"`
	Qualified                           int    `json:"qualified"`
	QualifiedConversion                 string `json:"qualifiedConversion"`
	MeetingsScheduled                   int    `json:"meetingsScheduled"`
	MeetingsScheduledConversion         string `json:"meetingsScheduledConversion"`
	MeetingsHeldConversion              string `json:"meetingsHeldConversion"`
	MeetingsHeldFromScheduledConversion string `json:"meetingsHeldFromScheduledConversion"`
	Junk                                int    `json:"junk"`
	JunkPercent                         string `json:"junkPercent"`
	Under250k                           int    `json:"under250k"`
	Under250kPercent                    string `json:"under250kPercent"`

	StageAnalysis StageBreakdown `json:"stageAnalysis"`
}

// EmployeeSummary aggregates one manager's leads across all sources.
type EmployeeSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Position string `json:"position"`
	Active   bool   `json:"active"`

	TotalLeads             int    `json:"totalLeads"`
	TotalMeetingsHeld      int    `json:"totalMeetingsHeld"`
	TotalMeetingsScheduled int    `json:"totalMeetingsScheduled"`
	TotalCommunication     int    `json:"totalCommunication"`
	TotalJunk              int    `json:"totalJunk"`

	OverallConversion               string `json:"overallConversion"`
	MeetingsFromScheduledConversion string `json:"meetingsFromScheduledConversion"`
}

// EmployeeGroup pairs a manager's summary with their per-source
// breakdown, in the same shape the sources report uses.
type EmployeeGroup struct {
	Employee EmployeeSummary `json:"employee"`
	Sources  []SourceGroup   `json:"sources"`
}
