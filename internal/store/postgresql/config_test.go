package postgresql

import "testing"

func TestConfig_ToMap(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit dsn", Config{DSN: " postgres://u:p@db/x ", Host: "ignored"}, "postgres://u:p@db/x"},
		{"components with defaults", Config{Host: "db", User: "apigw", Password: "secret", DBName: "runs"}, "postgres://apigw:secret@db:5432/runs?sslmode=disable"},
		{"escaped password", Config{Host: "db", Port: 6543, User: "u", Password: "p@ss/word", DBName: "d", SSLMode: "require"}, "postgres://u:p%40ss%2Fword@db:6543/d?sslmode=require"},
		{"nothing", Config{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := tt.cfg.ToMap()["dsn"].(string)
			if got != tt.want {
				t.Errorf("ToMap()[dsn] = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDialect_Placeholders(t *testing.T) {
	d := NewDialect()
	if got := d.GetPlaceholder(3); got != "$3" {
		t.Errorf("GetPlaceholder(3) = %q", got)
	}
	if got := d.Placeholders(3); got != "$1, $2, $3" {
		t.Errorf("Placeholders(3) = %q", got)
	}
	if got := d.Placeholders(0); got != "" {
		t.Errorf("Placeholders(0) = %q", got)
	}
}
