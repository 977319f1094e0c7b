package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/marches-api/internal/models"
)

func TestTransitionTable(t *testing.T) {
	fresh := State{}
	selected := State{Etat: models.EtatSelection, Etape: models.EtapeDecisionInitial}
	intake := State{IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeDecisionInitial}
	adminStage := State{IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeDecisionAdmin}
	accepted := State{IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeEtudesTechniques, Decision: models.DecisionAccepte}
	refused := State{IsAccepted: true, Etat: models.EtatRefuse, Etape: models.EtapeCloture, Decision: models.DecisionRefuse}

	cases := []struct {
		name string
		from State
		ev   Event
		want State
		code RejectionCode
	}{
		{"select fresh", fresh, Event{Kind: EventSelect}, selected, ""},
		{"select accepted", intake, Event{Kind: EventSelect}, intake, RejectAlreadyAccepted},
		{"accept intake fresh", fresh, Event{Kind: EventAcceptIntake}, intake, ""},
		{"accept intake from selection", selected, Event{Kind: EventAcceptIntake}, intake, ""},
		{"accept intake twice", intake, Event{Kind: EventAcceptIntake}, intake, RejectAlreadyAccepted},
		{"reject intake", selected, Event{Kind: EventRejectIntake}, State{Etat: models.EtatRejetee}, ""},
		{"promote", intake, Event{Kind: EventPromote}, adminStage, ""},
		{"promote wrong stage", fresh, Event{Kind: EventPromote}, fresh, RejectWrongStage},
		{"director accept", adminStage, Event{Kind: EventDirectorAccept}, accepted, ""},
		{"director accept wrong stage", intake, Event{Kind: EventDirectorAccept}, intake, RejectWrongStage},
		{"director accept pending decision", State{IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeDecisionAdmin, Decision: models.DecisionEnAttente}, Event{Kind: EventDirectorAccept}, State{IsAccepted: true, Etat: models.EtatEnCours, Etape: models.EtapeEtudesTechniques, Decision: models.DecisionAccepte}, ""},
		{"director refuse", adminStage, Event{Kind: EventDirectorRefuse, Reason: "Budget insuffisant"}, State{IsAccepted: true, Etat: models.EtatRefuse, Etape: models.EtapeCloture, Decision: models.DecisionRefuse}, ""},
		{"director refuse blank reason", adminStage, Event{Kind: EventDirectorRefuse, Reason: "  "}, adminStage, RejectReasonRequired},
		{"refuse after accept", accepted, Event{Kind: EventDirectorRefuse, Reason: "Budget insuffisant"}, accepted, RejectAlreadyDecided},
		{"refuse twice", refused, Event{Kind: EventDirectorRefuse, Reason: "encore"}, refused, RejectAlreadyDecided},
		{"cancel keeps stage", adminStage, Event{Kind: EventCancel}, State{IsAccepted: true, Etat: models.EtatAnnulee, Etape: models.EtapeDecisionAdmin}, ""},
		{"cancel terminal", refused, Event{Kind: EventCancel}, refused, RejectTerminal},
		{"nothing leaves rejetee", State{Etat: models.EtatRejetee}, Event{Kind: EventAcceptIntake}, State{Etat: models.EtatRejetee}, RejectTerminal},
		{"unknown", fresh, Event{Kind: "archive"}, fresh, RejectUnknownEvent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rej := Transition(tc.from, tc.ev)
			if tc.code == "" {
				require.Nil(t, rej)
			} else {
				require.NotNil(t, rej)
				require.Equal(t, tc.code, rej.Code)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestStageNeverPassesIntakeWithoutAcceptance(t *testing.T) {
	events := []Event{
		{Kind: EventSelect}, {Kind: EventAcceptIntake}, {Kind: EventRejectIntake}, {Kind: EventPromote},
		{Kind: EventDirectorAccept}, {Kind: EventDirectorRefuse, Reason: "motif"}, {Kind: EventCancel},
	}
	// breadth-first walk over every reachable state
	seen := map[State]bool{{}: true}
	queue := []State{{}}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, ev := range events {
			next, rej := Transition(s, ev)
			if rej != nil {
				continue
			}
			if next.Etape != models.EtapeNone && next.Etape != models.EtapeDecisionInitial {
				require.True(t, next.IsAccepted, "%+v -> %s -> %+v", s, ev.Kind, next)
			}
			if next.Etat == models.EtatRefuse {
				require.Equal(t, EventDirectorRefuse, ev.Kind)
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	require.Greater(t, len(seen), 5)
}
