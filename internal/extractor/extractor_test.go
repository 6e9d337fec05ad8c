package extractor

import (
	"testing"

	"github.com/BearBump/PickupBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestExtract_FullMessage(t *testing.T) {
	got, ok := Extract("【递管家】您的快递:*83226已到燕山区4栋快递站，请凭6A28前往人工货架领取")
	require.True(t, ok)
	require.Equal(t, models.ExtractedFields{
		TrackingID:     "83226",
		PickupCode:     "6A28",
		PickupLocation: "燕山区4栋快递站",
	}, got)
}

func TestExtract_NoMatch(t *testing.T) {
	for _, in := range []string{"", "Hello, how are you?", "取件码：12", "您的快递已发货"} {
		got, ok := Extract(in)
		require.False(t, ok, in)
		require.True(t, got.Empty(), in)
	}
}

func TestExtract_Cases(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want models.ExtractedFields
	}{
		{
			name: "leading zeros and full-width colon",
			in:   "您的快递：007890已送至学校菜鸟",
			want: models.ExtractedFields{TrackingID: "007890", PickupLocation: "学校菜鸟"},
		},
		{
			name: "pickup code with colon and spaces",
			in:   "取件码：  AB12CD，请尽快领取",
			want: models.ExtractedFields{PickupCode: "AB12CD"},
		},
		{
			name: "verification code without colon",
			in:   "验证码 9876",
			want: models.ExtractedFields{PickupCode: "9876"},
		},
		{
			name: "present then collect parcel",
			in:   "请凭5566取件",
			want: models.ExtractedFields{PickupCode: "5566"},
		},
		{
			name: "location is trimmed",
			in:   "包裹已到 北门丰巢 ，请及时取",
			want: models.ExtractedFields{PickupLocation: "北门丰巢"},
		},
		{
			name: "location stored at",
			in:   "您的包裹存放在3号楼代收点。",
			want: models.ExtractedFields{PickupLocation: "3号楼代收点"},
		},
		{
			name: "location reached locker",
			in:   "快递:12到达东门速递易,取件码:x9Y8",
			want: models.ExtractedFields{TrackingID: "12", PickupLocation: "东门速递易", PickupCode: "x9Y8"},
		},
		{
			name: "location does not span a period",
			in:   "已到A区.B栋驿站",
			want: models.ExtractedFields{},
		},
		{
			name: "code capped at eight characters",
			in:   "取件码:123456789",
			want: models.ExtractedFields{PickupCode: "12345678"},
		},
		{
			name: "asterisk is optional",
			in:   "快递:4711",
			want: models.ExtractedFields{TrackingID: "4711"},
		},
		{
			name: "vertical tab between label and code",
			in:   "取件码已到验证码\vZ839",
			want: models.ExtractedFields{PickupCode: "Z839"},
		},
		{
			name: "line and paragraph separators between label and code",
			in:   "取件码\u2028\u2029：AB12",
			want: models.ExtractedFields{PickupCode: "AB12"},
		},
		{
			name: "next line and unit separator between label and code",
			in:   "验证码\u0085\x1f7788",
			want: models.ExtractedFields{PickupCode: "7788"},
		},
		{
			name: "location wrapped in file separators",
			in:   ".*12存放在\t\x1c\u2028代收点",
			want: models.ExtractedFields{PickupLocation: "代收点"},
		},
		{
			name: "location wrapped in ideographic spaces",
			in:   "已到\u3000北门驿站\u3000，请取",
			want: models.ExtractedFields{PickupLocation: "北门驿站"},
		},
		{
			name: "only the first tracking match is used",
			in:   "快递:111 快递:222",
			want: models.ExtractedFields{TrackingID: "111"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract(tc.in)
			require.Equal(t, !tc.want.Empty(), ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExtract_PleasePresentWinsOverPickupCode(t *testing.T) {
	got, ok := Extract("取件码1111，请凭2222领取")
	require.True(t, ok)
	require.Equal(t, "2222", got.PickupCode)
}

func TestExtract_Idempotent(t *testing.T) {
	msg := "【菜鸟驿站】您的快递:*00123已到西门驿站，取件码：K7K7"
	first, ok1 := Extract(msg)
	second, ok2 := Extract(msg)
	require.Equal(t, ok1, ok2)
	require.Equal(t, first, second)
}

func TestExplain_ReportsWinningRule(t *testing.T) {
	e := Default()
	got := e.Explain("您的快递:*83226已到燕山区4栋快递站，请凭6A28前往人工货架领取")
	require.Equal(t, map[Field]string{
		FieldTrackingID:     "tracking_after_courier",
		FieldPickupLocation: "location_after_arrival",
		FieldPickupCode:     "code_please_present",
	}, got)

	require.Empty(t, e.Explain(""))
}

func TestRule_Apply(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 6)

	var codeRules []string
	for _, r := range rules {
		if r.Field == FieldPickupCode {
			codeRules = append(codeRules, r.Name)
		}
	}
	require.Equal(t, []string{
		"code_please_present",
		"code_pickup_code",
		"code_verification_code",
		"code_present_collect",
	}, codeRules)

	v, ok := rules[3].Apply("取件码：ZZ99")
	require.True(t, ok)
	require.Equal(t, "ZZ99", v)

	_, ok = rules[3].Apply("验证码：ZZ99")
	require.False(t, ok)
}

func TestTrimSpace(t *testing.T) {
	require.Equal(t, "代收点", trimSpace("\x1c\x1d\v\u0085 代收点\u2029\u3000\x1f"))
	require.Equal(t, "A B", trimSpace("\tA B\n"))
	require.Equal(t, "", trimSpace("\x1e\u00a0"))
}

func TestNew_CustomRules(t *testing.T) {
	e := New([]Rule{DefaultRules()[0]})
	got, ok := e.Extract("您的快递:*83226已到燕山区4栋快递站，请凭6A28前往")
	require.True(t, ok)
	require.Equal(t, models.ExtractedFields{TrackingID: "83226"}, got)
	require.Len(t, e.Rules(), 1)
}
