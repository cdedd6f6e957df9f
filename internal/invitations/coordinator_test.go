package invitations

import (
	"strings"
	"testing"

	"github.com/mguest/inspectd/internal/store"
)

const (
	fmtExpectedText = "expected %q, got %q"
	fmtExpectedRef  = "expected ref %q, got %q"
)

func TestInvitationText_WithReward(t *testing.T) {
	task := &store.Task{
		RestaurantName:    "Хинкальная №1",
		RestaurantAddress: "Тверская, 1",
		VisitDate:         "2026-02-15",
	}

	got := invitationText(task, "7000")

	want := "Привет! Мы ищем Тайного гостя для ресторана «Хинкальная №1».\n" +
		"Адрес: Тверская, 1\n" +
		"Проверка: 2026-02-15\n" +
		"Вознаграждение: 7000\n" +
		"Нажми «Принять», если готов(а) пройти проверку."
	if got != want {
		t.Fatalf(fmtExpectedText, want, got)
	}
}

func TestInvitationText_WithoutReward(t *testing.T) {
	task := &store.Task{
		RestaurantName:    "Бар Адика",
		RestaurantAddress: "Арбат, 10",
		VisitDate:         "2026-03-01",
	}

	got := invitationText(task, "  ")

	if strings.Contains(got, "Вознаграждение") {
		t.Fatalf("blank reward must not produce a reward line: %q", got)
	}
	if !strings.HasSuffix(got, "Нажми «Принять», если готов(а) пройти проверку.") {
		t.Fatalf("unexpected invitation tail: %q", got)
	}
}

func TestTaskRef_PrefersStoredNomber(t *testing.T) {
	task := &store.Task{TaskID: 17859014, Nomber: "86190"}

	if got := taskRef(task, 17859014); got != "86190" {
		t.Fatalf(fmtExpectedRef, "86190", got)
	}
}

func TestTaskRef_FallsBackToNumericID(t *testing.T) {
	if got := taskRef(nil, 17859014); got != "17859014" {
		t.Fatalf(fmtExpectedRef, "17859014", got)
	}
	if got := taskRef(&store.Task{TaskID: 17859014}, 17859014); got != "17859014" {
		t.Fatalf(fmtExpectedRef, "17859014", got)
	}
}

func TestTaskLocks_SameTaskSameStripe(t *testing.T) {
	var locks taskLocks

	first := locks.forTask(86190)
	second := locks.forTask(86190)

	if first != second {
		t.Fatal("expected the same mutex for repeated lookups of one task")
	}
}

func TestTaskLocks_LockRoundTrip(t *testing.T) {
	var locks taskLocks

	mu := locks.forTask(17859014)
	mu.Lock()
	if locks.forTask(17859014) != mu {
		mu.Unlock()
		t.Fatal("stripe lookup must be stable while held")
	}
	mu.Unlock()
}
