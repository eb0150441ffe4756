package orchestrator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/crew"
	"github.com/ytnobody/riskcrew/internal/ledger"
)

const controllerSpeaker = "controller"

// transcript mirrors one session into the shared chatlog file. Write errors
// are logged and otherwise ignored.
type transcript struct {
	log     *chatlog.ChatLog
	session string
	logger  *zap.Logger
}

func newTranscript(log *chatlog.ChatLog, session string, logger *zap.Logger) *transcript {
	return &transcript{log: log, session: session, logger: logger}
}

func (t *transcript) append(speaker, body string) {
	if err := t.log.Append(t.session, speaker, body); err != nil {
		t.logger.Warn("transcript append failed", zap.Error(err))
	}
}

func (t *transcript) OnTaskStart(task crew.Task) {
	t.append(task.Agent.Role, fmt.Sprintf("started %s", task.Kind))
}

func (t *transcript) OnTaskDone(task crew.Task, output string) {
	t.append(task.Agent.Role, output)
}

func (t *transcript) OnState(revision int, state State) {
	t.append(controllerSpeaker, fmt.Sprintf("revision %d: %s", revision+1, state))
}

// onConversation is registered on the session ledger.
func (t *transcript) onConversation(e ledger.Entry) {
	t.append(e.Speaker, "(memory) "+e.Message)
}

// multiObserver fans events out to several observers.
type multiObserver []Observer

func (m multiObserver) OnTaskStart(task crew.Task) {
	for _, o := range m {
		o.OnTaskStart(task)
	}
}

func (m multiObserver) OnTaskDone(task crew.Task, output string) {
	for _, o := range m {
		o.OnTaskDone(task, output)
	}
}

func (m multiObserver) OnState(revision int, state State) {
	for _, o := range m {
		o.OnState(revision, state)
	}
}
