package scheduler

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	appErrors "github.com/noah-isme/univ-scheduler-api/pkg/errors"
)

const dateLayout = "2006-01-02"

const (
	minStrictness = 1
	maxStrictness = 10
)

// requirementInfo is a requirement resolved against the run's pools.
type requirementInfo struct {
	Requirement

	index    int
	groups   []string
	size     int
	pins     []string
	rooms    []int
	teachers []string
	prereqs  []string
	follower []string
	days     []int
	dayPos   map[int]int
	required int
	pending  int
	depth    int
	weight   int
}

// workspace is the validated, indexed form of a request.
type workspace struct {
	opts       Options
	target     Target
	cal        *Calendar
	frameStart int
	frameEnd   int
	slotPos    map[string]int
	teachers   map[string]Teacher
	groups     map[string]Group
	subgroups  map[string]Subgroup
	streams    map[string]Stream
	rooms      []Classroom

	requirements []*requirementInfo
	byID         map[string]*requirementInfo

	baseline *occupancy
	removed  []Entry
	scale    float64
}

// Preview summarises a request that passed validation.
type Preview struct {
	WorkingDays  int `json:"workingDays"`
	Pairs        int `json:"pairs"`
	Requirements int `json:"requirements"`
	Occurrences  int `json:"occurrences"`
}

// Validate runs the preparing stage without a store: options, the resolved
// calendar and every reference in the request are checked the way Run checks
// them.
func Validate(req Request) (*Preview, error) {
	cal, err := prepareCalendar(req)
	if err != nil {
		return nil, err
	}
	ws, err := newWorkspace(req, cal)
	if err != nil {
		return nil, err
	}
	return &Preview{
		WorkingDays:  len(cal.Days),
		Pairs:        len(cal.Pairs),
		Requirements: len(ws.requirements),
		Occurrences:  lo.SumBy(ws.requirements, func(info *requirementInfo) int { return info.required }),
	}, nil
}

// prepareCalendar validates options and resolves a non-empty calendar.
func prepareCalendar(req Request) (*Calendar, error) {
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}
	cal, err := ResolveCalendar(req.Frame, req.Calendar, req.TimeSlots, CalendarOptions{
		WeekParity:        req.Options.WeekParity,
		ShortenPreHoliday: req.Options.ShortenPreHoliday,
		IgnoreProduction:  req.Options.IgnoreProductionCalendar,
	})
	if err != nil {
		return nil, err
	}
	if cal.Empty() {
		return nil, appErrors.Clone(appErrors.ErrCalendarUnavailable, "")
	}
	return cal, nil
}

func validateOptions(opts Options) error {
	if opts.Iterations < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "iterations must be at least 1")
	}
	if opts.Strictness < minStrictness || opts.Strictness > maxStrictness {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("strictness must be between %d and %d", minStrictness, maxStrictness))
	}
	if opts.Parallelism < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "parallelism must not be negative")
	}
	return nil
}

func newWorkspace(req Request, cal *Calendar) (*workspace, error) {
	ws := &workspace{
		opts:       req.Options,
		target:     req.Target,
		cal:        cal,
		frameStart: dayNumber(req.Frame.Start),
		frameEnd:   dayNumber(req.Frame.End),
		slotPos:    make(map[string]int, len(cal.Slots)),
		teachers:   make(map[string]Teacher, len(req.Teachers)),
		groups:     make(map[string]Group, len(req.Groups)),
		subgroups:  make(map[string]Subgroup, len(req.Subgroups)),
		streams:    make(map[string]Stream, len(req.Streams)),
		byID:       make(map[string]*requirementInfo, len(req.Requirements)),
		scale:      float64(req.Options.Strictness-minStrictness) / float64(maxStrictness-minStrictness),
	}
	if ws.target.Type == "" {
		ws.target.Type = TargetNone
	}
	for i, slot := range cal.Slots {
		ws.slotPos[slot.ID] = i
	}

	for _, t := range req.Teachers {
		if _, dup := ws.teachers[t.ID]; dup || t.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid or duplicate teacher %q", t.ID))
		}
		ws.teachers[t.ID] = t
	}
	for _, g := range req.Groups {
		if _, dup := ws.groups[g.ID]; dup || g.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid or duplicate group %q", g.ID))
		}
		if g.Size < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("group %s has a negative size", g.ID))
		}
		ws.groups[g.ID] = g
	}
	for _, sg := range req.Subgroups {
		if _, dup := ws.subgroups[sg.ID]; dup || sg.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid or duplicate subgroup %q", sg.ID))
		}
		parent, ok := ws.groups[sg.GroupID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subgroup %s references unknown group %s", sg.ID, sg.GroupID))
		}
		if sg.Size < 0 || sg.Size > parent.Size {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subgroup %s size must be between 0 and the size of group %s", sg.ID, sg.GroupID))
		}
		ws.subgroups[sg.ID] = sg
	}
	for _, s := range req.Streams {
		if _, dup := ws.streams[s.ID]; dup || s.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid or duplicate stream %q", s.ID))
		}
		if len(s.GroupIDs) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("stream %s has no groups", s.ID))
		}
		for _, gid := range s.GroupIDs {
			if _, ok := ws.groups[gid]; !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("stream %s references unknown group %s", s.ID, gid))
			}
		}
		ws.streams[s.ID] = s
	}

	roomIDs := make(map[string]struct{}, len(req.Classrooms))
	for _, room := range req.Classrooms {
		if _, dup := roomIDs[room.ID]; dup || room.ID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid or duplicate classroom %q", room.ID))
		}
		roomIDs[room.ID] = struct{}{}
	}
	if err := validatePins(req, roomIDs); err != nil {
		return nil, err
	}
	if err := ws.validateTarget(roomIDs); err != nil {
		return nil, err
	}
	ws.rooms = ws.roomPool(req.Classrooms)

	all := make([]*requirementInfo, 0, len(req.Requirements))
	for _, r := range req.Requirements {
		info, err := ws.resolveRequirement(r)
		if err != nil {
			return nil, err
		}
		if _, dup := ws.byID[r.ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate requirement %s", r.ID))
		}
		ws.byID[r.ID] = info
		all = append(all, info)
	}
	if err := ws.linkPrerequisites(all); err != nil {
		return nil, err
	}
	ws.requirements = lo.Filter(all, func(info *requirementInfo, _ int) bool {
		return ws.inScope(info)
	})
	for i, info := range ws.requirements {
		info.index = i
		if ws.target.Type == TargetTeacher {
			info.teachers = []string{ws.target.ID}
		}
	}
	return ws, nil
}

func (ws *workspace) validateTarget(roomIDs map[string]struct{}) error {
	switch ws.target.Type {
	case TargetNone:
		return nil
	case TargetGroup:
		if _, ok := ws.groups[ws.target.ID]; ok {
			return nil
		}
	case TargetTeacher:
		if _, ok := ws.teachers[ws.target.ID]; ok {
			return nil
		}
	case TargetClassroom:
		if _, ok := roomIDs[ws.target.ID]; ok {
			return nil
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown target type %q", ws.target.Type))
	}
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("target %s %q not found", ws.target.Type, ws.target.ID))
}

// roomPool orders classrooms by capacity then id so the tightest fit comes first.
func (ws *workspace) roomPool(rooms []Classroom) []Classroom {
	pool := lo.Filter(rooms, func(room Classroom, _ int) bool {
		return ws.target.Type != TargetClassroom || room.ID == ws.target.ID
	})
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Capacity != pool[j].Capacity {
			return pool[i].Capacity < pool[j].Capacity
		}
		return pool[i].ID < pool[j].ID
	})
	return pool
}

func (ws *workspace) resolveRequirement(r Requirement) (*requirementInfo, error) {
	if r.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requirement id is required")
	}
	if r.WeeklyCount < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s: weekly count must be at least 1", r.ID))
	}
	switch r.Kind {
	case KindLecture, KindPractical, KindLab, KindOther:
	case "":
		r.Kind = KindOther
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s: unknown kind %q", r.ID, r.Kind))
	}
	switch r.Parity {
	case "":
		r.Parity = ParityEvery
	case ParityEvery, ParityOdd, ParityEven:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s: unknown parity %q", r.ID, r.Parity))
	}
	if len(r.TeacherIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s: at least one teacher is required", r.ID))
	}
	for _, tid := range r.TeacherIDs {
		if _, ok := ws.teachers[tid]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s references unknown teacher %s", r.ID, tid))
		}
	}

	groups, ok := ws.participantGroups(r.Participant)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s references unknown %s %s", r.ID, r.Participant.Kind, r.Participant.ID))
	}
	info := &requirementInfo{
		Requirement: r,
		groups:      groups,
		size:        ws.participantSize(r.Participant, groups),
		pins:        ws.requirementPins(r, groups),
		teachers:    lo.Uniq(r.TeacherIDs),
		dayPos:      make(map[int]int),
	}

	for i, room := range ws.rooms {
		if ws.opts.AllowOverbooking || (room.Capacity >= info.size && (r.RoomTypeID == "" || room.TypeID == r.RoomTypeID)) {
			info.rooms = append(info.rooms, i)
		}
	}

	parity := ParityEvery
	if ws.opts.WeekParity {
		parity = r.Parity
	}
	for idx, day := range ws.cal.Days {
		if parityMatches(parity, day.Parity) {
			info.dayPos[idx] = len(info.days)
			info.days = append(info.days, idx)
		}
	}
	info.required = r.WeeklyCount * len(ws.cal.Weeks(parity))
	return info, nil
}

// validatePins rejects pins naming classrooms outside the request.
func validatePins(req Request, roomIDs map[string]struct{}) error {
	check := func(kind, id, pin string) error {
		if pin == "" {
			return nil
		}
		if _, ok := roomIDs[pin]; !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s %s pins unknown classroom %s", kind, id, pin))
		}
		return nil
	}
	for _, t := range req.Teachers {
		if err := check("teacher", t.ID, t.PinnedClassroomID); err != nil {
			return err
		}
	}
	for _, g := range req.Groups {
		if err := check("group", g.ID, g.PinnedClassroomID); err != nil {
			return err
		}
	}
	for _, r := range req.Requirements {
		if err := check("requirement", r.ID, r.PinnedClassroomID); err != nil {
			return err
		}
	}
	return nil
}

// requirementPins collects the classrooms pinned by a requirement and its groups.
func (ws *workspace) requirementPins(r Requirement, groups []string) []string {
	pins := make([]string, 0, len(groups)+1)
	if r.PinnedClassroomID != "" {
		pins = append(pins, r.PinnedClassroomID)
	}
	for _, gid := range groups {
		if pin := ws.groups[gid].PinnedClassroomID; pin != "" {
			pins = append(pins, pin)
		}
	}
	return lo.Uniq(pins)
}

// participantSize is the head count of a participant. A subgroup counts only
// its own members even though it books the whole parent group.
func (ws *workspace) participantSize(p Participant, groups []string) int {
	if p.Kind == ParticipantSubgroup {
		return ws.subgroups[p.ID].Size
	}
	return lo.SumBy(groups, func(id string) int { return ws.groups[id].Size })
}

// participantGroups expands a participant into sorted member group ids. A
// subgroup expands to its parent group.
func (ws *workspace) participantGroups(p Participant) ([]string, bool) {
	switch p.Kind {
	case ParticipantGroup, "":
		if _, ok := ws.groups[p.ID]; !ok {
			return nil, false
		}
		return []string{p.ID}, true
	case ParticipantStream:
		s, ok := ws.streams[p.ID]
		if !ok {
			return nil, false
		}
		ids := lo.Uniq(s.GroupIDs)
		sort.Strings(ids)
		return ids, true
	case ParticipantSubgroup:
		sg, ok := ws.subgroups[p.ID]
		if !ok {
			return nil, false
		}
		return []string{sg.GroupID}, true
	default:
		return nil, false
	}
}

// entryGroups resolves the groups an existing entry occupies. Unknown
// participants occupy a group named after themselves.
func (ws *workspace) entryGroups(e Entry) []string {
	if groups, ok := ws.participantGroups(e.Participant); ok {
		return groups
	}
	return []string{string(e.Participant.Kind) + ":" + e.Participant.ID}
}

func (ws *workspace) linkPrerequisites(all []*requirementInfo) error {
	lectures := lo.Filter(all, func(info *requirementInfo, _ int) bool {
		return info.Kind == KindLecture
	})
	for _, info := range all {
		if info.FollowsID != "" {
			lecture, ok := ws.byID[info.FollowsID]
			if !ok {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s follows unknown requirement %s", info.ID, info.FollowsID))
			}
			if lecture.Kind != KindLecture {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requirement %s must follow a lecture", info.ID))
			}
			info.prereqs = []string{lecture.ID}
		} else if info.Kind.dependent() {
			for _, lecture := range lectures {
				if lecture.SubjectID == info.SubjectID && len(lo.Intersect(lecture.groups, info.groups)) > 0 {
					info.prereqs = append(info.prereqs, lecture.ID)
				}
			}
		}
		if len(info.prereqs) > 0 {
			info.depth = 1
		}
		for _, lectureID := range info.prereqs {
			lecture := ws.byID[lectureID]
			lecture.follower = append(lecture.follower, info.ID)
		}
	}
	return nil
}

func (ws *workspace) inScope(info *requirementInfo) bool {
	switch ws.target.Type {
	case TargetGroup:
		return lo.Contains(info.groups, ws.target.ID)
	case TargetTeacher:
		return lo.Contains(info.teachers, ws.target.ID)
	case TargetClassroom:
		return len(info.rooms) > 0
	default:
		return true
	}
}

// entryInScope reports whether an existing entry is cleared by clearExisting.
func (ws *workspace) entryInScope(e Entry) bool {
	if !ws.inFrame(e) {
		return false
	}
	switch ws.target.Type {
	case TargetGroup:
		return lo.Contains(ws.entryGroups(e), ws.target.ID)
	case TargetTeacher:
		return e.TeacherID == ws.target.ID
	case TargetClassroom:
		return e.ClassroomID == ws.target.ID
	default:
		return true
	}
}

func (ws *workspace) inFrame(e Entry) bool {
	n := dayNumber(e.Date)
	return n >= ws.frameStart && n <= ws.frameEnd
}

// loadBaseline indexes committed entries, removing the cleared ones.
func (ws *workspace) loadBaseline(existing []Entry) error {
	ws.baseline = newOccupancy()
	for _, e := range existing {
		if ws.opts.ClearExisting && ws.entryInScope(e) {
			ws.removed = append(ws.removed, e)
			continue
		}
		pos, ok := ws.slotPos[e.SlotID]
		if !ok {
			continue
		}
		year, week := e.Date.ISOWeek()
		if err := ws.baseline.add(e, ws.entryGroups(e), makeCell(dayNumber(e.Date), pos), year*100+week); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternalInconsistency.Code, appErrors.ErrInternalInconsistency.Status, "committed schedule has a collision")
		}
	}

	for _, info := range ws.requirements {
		placedCount := 0
		for _, p := range ws.baseline.entries {
			if p.entry.RequirementID == info.ID {
				placedCount++
			}
		}
		info.pending = max(info.required-placedCount, 0)
		info.weight = ws.priorityWeight(info)
	}
	return nil
}

// priorityWeight biases the pass ordering toward hard-to-place requirements.
func (ws *workspace) priorityWeight(info *requirementInfo) int {
	roomPool := len(ws.rooms)
	weight := 10 + info.size/5 + info.pending*2
	switch info.Participant.Kind {
	case ParticipantStream:
		weight += 40
	case ParticipantSubgroup:
		weight += 10
	}
	weight += 6 * len(info.pins)
	if lo.ContainsBy(info.teachers, func(id string) bool { return ws.teachers[id].PinnedClassroomID != "" }) {
		weight += 6
	}
	if info.Kind == KindLab {
		weight += 20
	}
	if len(info.teachers) == 1 {
		weight += 30
	}
	if roomPool > 0 && len(info.rooms)*4 <= roomPool {
		weight += 30
	}
	return weight
}
