package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/racingapi"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func runner(horse, jockey, jockeyName string) racingapi.Runner {
	return racingapi.Runner{
		HorseID:   racingapi.Text(horse),
		Horse:     racingapi.Text("Horse " + horse),
		JockeyID:  racingapi.Text(jockey),
		Jockey:    racingapi.Text(jockeyName),
		TrainerID: "trn_1",
		Trainer:   "A Trainer",
	}
}

func TestExtract_FirstObservedNameWins(t *testing.T) {
	log, logs := observed()
	x := New(log)

	results := []racingapi.Result{{
		RaceID: "rac_1", CourseID: "crs_1", Course: "Ascot",
		Runners: []racingapi.Runner{
			runner("hrs_1", "jky_1", "J Smith"),
			runner("hrs_2", "jky_1", "J. Smith"),
			runner("hrs_3", "jky_1", "J Smith"),
		},
	}}

	got := x.Extract(results)
	require.Len(t, got.Jockeys, 1)
	assert.Equal(t, "jky_1", got.Jockeys[0].ID)
	require.NotNil(t, got.Jockeys[0].Name)
	assert.Equal(t, "J Smith", *got.Jockeys[0].Name)

	conflicts := logs.FilterMessage("entity name conflict").All()
	require.Len(t, conflicts, 1)
	fields := conflicts[0].ContextMap()
	assert.Equal(t, "jockey", fields["kind"])
	assert.Equal(t, "jky_1", fields["key"])
	assert.Equal(t, "J Smith", fields["kept"])
	assert.Equal(t, "J. Smith", fields["ignored"])
}

func TestExtract_OneRecordPerKey(t *testing.T) {
	x := New(nil)
	var rs []racingapi.Runner
	for i := 0; i < 300; i++ {
		rs = append(rs, runner(fmt.Sprintf("hrs_%d", i%7), fmt.Sprintf("jky_%d", i%3), "J"))
	}
	got := x.Extract([]racingapi.Result{{RaceID: "rac_1", Runners: rs}})

	assert.Len(t, got.Horses, 7)
	assert.Len(t, got.Jockeys, 3)
	assert.Len(t, got.Trainers, 1)
	assert.Equal(t, "hrs_0", got.Horses[0].ID)
	assert.Equal(t, 7, got.Counts()[models.KindHorse])
}

func TestExtract_EmptyNameKeptAndFilledLater(t *testing.T) {
	log, logs := observed()
	x := New(log)

	got := x.Extract([]racingapi.Result{{
		RaceID: "rac_1",
		Runners: []racingapi.Runner{
			{HorseID: "hrs_1", OwnerID: "own_1", Owner: ""},
			{HorseID: "hrs_2", OwnerID: "own_1", Owner: "Mr Owner"},
			{HorseID: "hrs_3", OwnerID: "own_2"},
		},
	}})

	require.Len(t, got.Owners, 2)
	require.NotNil(t, got.Owners[0].Name)
	assert.Equal(t, "Mr Owner", *got.Owners[0].Name)
	assert.Nil(t, got.Owners[1].Name)
	assert.Zero(t, logs.Len())
}

func TestExtract_MissingOptionalRole(t *testing.T) {
	got := New(nil).Extract([]racingapi.Result{{
		RaceID:  "rac_1",
		Runners: []racingapi.Runner{{HorseID: "hrs_1", Horse: "Dobbin"}},
	}})

	assert.Len(t, got.Horses, 1)
	assert.Empty(t, got.Jockeys)
	assert.Empty(t, got.Owners)
	assert.Empty(t, got.Sires)
	assert.Empty(t, got.Courses)
}

func TestExtract_PedigreeAndBookmakers(t *testing.T) {
	got := New(nil).Extract([]racingapi.Result{{
		RaceID: "rac_1", CourseID: "crs_1", Course: "Ascot", Region: "GB",
		Runners: []racingapi.Runner{{
			HorseID: "hrs_1", Horse: "Dobbin", Sex: "gelding",
			SireID: "sir_1", Sire: "Frankel",
			DamID: "dam_1", Dam: "Kind",
			DamsireID: "dsi_1", Damsire: "Danehill",
			Odds: []racingapi.Odds{{Bookmaker: "Bet365"}, {Bookmaker: "Sky Bet"}, {Bookmaker: "bet365"}},
		}},
	}})

	require.Len(t, got.Horses, 1)
	h := got.Horses[0]
	assert.Equal(t, "gelding", *h.Sex)
	assert.Equal(t, "sir_1", *h.SireID)
	assert.Equal(t, "dam_1", *h.DamID)
	assert.Equal(t, "dsi_1", *h.DamsireID)

	require.Len(t, got.Sires, 1)
	require.Len(t, got.Dams, 1)
	require.Len(t, got.Damsires, 1)
	assert.Equal(t, "Danehill", *got.Damsires[0].Name)

	require.Len(t, got.Courses, 1)
	assert.Equal(t, "GB", *got.Courses[0].Region)

	require.Len(t, got.Bookmakers, 2)
	assert.Equal(t, "bkm_bet365", got.Bookmakers[0].ID)
	assert.Equal(t, "bkm_sky_bet", got.Bookmakers[1].ID)
}

func TestExtract_ParallelMatchesSequential(t *testing.T) {
	var results []racingapi.Result
	for i := 0; i < 60; i++ {
		results = append(results, racingapi.Result{
			RaceID:   racingapi.Text(fmt.Sprintf("rac_%d", i)),
			CourseID: racingapi.Text(fmt.Sprintf("crs_%d", i%4)),
			Course:   racingapi.Text(fmt.Sprintf("Course %d", i%4)),
			Runners: []racingapi.Runner{
				runner(fmt.Sprintf("hrs_%d", i%11), fmt.Sprintf("jky_%d", i%5), fmt.Sprintf("Jockey %d", i)),
				runner(fmt.Sprintf("hrs_%d", (i+3)%11), "jky_x", ""),
			},
		})
	}
	// jky_x only gets a name deep into the batch
	results[41].Runners[1].Jockey = "Late Name"

	seq := &Extractor{log: zap.NewNop(), threshold: len(results), workers: 4}
	par := &Extractor{log: zap.NewNop(), threshold: 1, workers: 4}

	assert.Equal(t, seq.Extract(results), par.Extract(results))

	got := par.Extract(results)
	var lateName *string
	for _, j := range got.Jockeys {
		if j.ID == "jky_x" {
			lateName = j.Name
		}
	}
	require.NotNil(t, lateName)
	assert.Equal(t, "Late Name", *lateName)
}

func conflicts(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.FilterMessage("entity name conflict").All() {
		f := e.ContextMap()
		out = append(out, fmt.Sprintf("%s %s kept=%q ignored=%q", f["kind"], f["key"], f["kept"], f["ignored"]))
	}
	return out
}

func TestExtract_ParallelLogsSameConflicts(t *testing.T) {
	results := make([]racingapi.Result, 800)
	for i := range results {
		results[i] = racingapi.Result{
			RaceID: racingapi.Text(fmt.Sprintf("rac_%d", i)), CourseID: "crs_1", Course: "Ascot",
			Runners: []racingapi.Runner{runner(fmt.Sprintf("hrs_%d", i%50), "jky_1", "J Smith")},
		}
	}
	results[400].Runners[0].Jockey = "J. Smith"
	results[650].Course = "Ascot Heath"

	seqLog, seqLogs := observed()
	parLog, parLogs := observed()
	seq := &Extractor{log: seqLog, threshold: ParallelThreshold, workers: 1}
	par := &Extractor{log: parLog, threshold: ParallelThreshold, workers: 4}

	assert.Equal(t, seq.Extract(results), par.Extract(results))
	want := []string{
		`jockey jky_1 kept="J Smith" ignored="J. Smith"`,
		`course crs_1 kept="Ascot" ignored="Ascot Heath"`,
	}
	assert.ElementsMatch(t, want, conflicts(seqLogs))
	assert.ElementsMatch(t, want, conflicts(parLogs))
}

func TestBookmakerKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Bet365", "bkm_bet365"},
		{"  Paddy Power ", "bkm_paddy_power"},
		{"William Hill!", "bkm_william_hill"},
		{"", ""},
		{"--", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BookmakerKey(tt.in), tt.in)
	}
}
