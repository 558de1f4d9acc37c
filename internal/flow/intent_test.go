package flow

import "testing"

func TestIntentClassifiers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"reset korean", IsReset, "다시 시작할래요", true},
		{"reset no space", IsReset, "다시시작", true},
		{"reset english case", IsReset, "RESET please", true},
		{"reset coaching again", IsReset, "코칭 다시 해주세요", true},
		{"reset negative", IsReset, "오늘 학교 다녀왔어요", false},
		{"end korean", IsEnd, "이제 그만할래요", true},
		{"end english", IsEnd, "stop", true},
		{"end wrap up", IsEnd, "마무리 할게요", true},
		{"end negative", IsEnd, "친구랑 놀았어요", false},
		{"end english word boundary", IsEnd, "unstoppable", false},
		{"continue", IsContinue, "이어서 할게요", true},
		{"continue yes", IsContinue, "Yes", true},
		{"continue negative", IsContinue, "모르겠어요", false},
		{"new session", IsNewSession, "새 주제로 할래요", true},
		{"new session no", IsNewSession, "no", true},
		{"new session know is not no", IsNewSession, "I know", false},
		{"crisis", IsCrisis, "요즘 너무 외로워요", true},
		{"crisis spaced", IsCrisis, "죽고 싶어요", true},
		{"crisis nobody", IsCrisis, "아무도 없어요", true},
		{"crisis negative", IsCrisis, "시험이 걱정돼요", false},
		{"explicit restart", IsExplicitRestart, "  다시 시작  ", true},
		{"explicit restart 재시작", IsExplicitRestart, "재시작", true},
		{"explicit restart requires phrase", IsExplicitRestart, "다시 해볼래요", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("%q: got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
