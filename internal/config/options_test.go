package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestOptions_First(t *testing.T) {
	t.Parallel()

	opts := Options{"a": {"1", "2"}, "empty": {}}

	v, ok := opts.First("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = opts.First("empty")
	assert.False(t, ok)

	_, ok = opts.First("missing")
	assert.False(t, ok)
}

func TestOptions_String(t *testing.T) {
	t.Parallel()

	opts := Options{"url": {"ldap://dir:389"}, "blank": {""}}

	assert.Equal(t, "ldap://dir:389", opts.String("url", "x"))
	assert.Equal(t, "x", opts.String("blank", "x"))
	assert.Equal(t, "x", opts.String("missing", "x"))
}

func TestOptions_Bool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		def     bool
		want    bool
		wantErr bool
	}{
		{name: "unset uses default", opts: Options{}, def: true, want: true},
		{name: "true", opts: Options{"k": {"true"}}, want: true},
		{name: "one", opts: Options{"k": {"1"}}, want: true},
		{name: "false", opts: Options{"k": {"false"}}, def: true, want: false},
		{name: "padded", opts: Options{"k": {" TRUE "}}, want: true},
		{name: "garbage", opts: Options{"k": {"maybe"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.opts.Bool("k", tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptions_Duration(t *testing.T) {
	t.Parallel()

	opts := Options{"ok": {"5s"}, "bad": {"soon"}, "neg": {"-1s"}}

	d, err := opts.Duration("ok", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = opts.Duration("missing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = opts.Duration("bad", time.Second)
	assert.Error(t, err)

	_, err = opts.Duration("neg", time.Second)
	assert.Error(t, err)
}

func TestOptions_Require(t *testing.T) {
	t.Parallel()

	opts := Options{"present": {"x"}, "blank": {""}}

	assert.NoError(t, opts.Require("json_auth", "present"))

	err := opts.Require("ldap_auth", "present", "blank", "missing")
	var missing *MissingOptionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ldap_auth", missing.Authenticator)
	assert.Equal(t, []string{"blank", "missing"}, missing.Keys)
	assert.Contains(t, err.Error(), "blank, missing")
}

func TestOptions_MergeAndClone(t *testing.T) {
	t.Parallel()

	base := Options{"a": {"1"}, "b": {"2"}}
	merged := base.Merge(Options{"b": {"3"}, "c": {"4"}})

	assert.Equal(t, Options{"a": {"1"}, "b": {"3"}, "c": {"4"}}, merged)
	assert.Equal(t, []string{"2"}, base["b"], "merge must not mutate the receiver")

	clone := merged.Clone()
	clone["a"][0] = "changed"
	assert.Equal(t, "1", merged["a"][0])

	assert.Equal(t, []string{"a", "b", "c"}, merged.Keys())
}

func TestOptions_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	var out struct {
		Options Options `yaml:"options"`
	}
	err := yaml.Unmarshal([]byte(`
options:
  json_user_file_path: /etc/users.json
  json_hashed_pw: true
  ldap_url:
    - ldap://a:389
    - ldap://b:389
`), &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"/etc/users.json"}, out.Options["json_user_file_path"])
	assert.Equal(t, []string{"true"}, out.Options["json_hashed_pw"])
	assert.Equal(t, []string{"ldap://a:389", "ldap://b:389"}, out.Options["ldap_url"])
}

func TestOptions_UnmarshalYAML_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "not a mapping", yaml: "options: [a, b]"},
		{name: "nested mapping", yaml: "options:\n  k:\n    x: y"},
		{name: "nested sequence", yaml: "options:\n  k:\n    - [a]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out struct {
				Options Options `yaml:"options"`
			}
			assert.Error(t, yaml.Unmarshal([]byte(tt.yaml), &out))
		})
	}
}
