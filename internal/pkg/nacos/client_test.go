package nacos

import "testing"

func TestServerConfigs(t *testing.T) {
	cfgs, err := ServerConfigs("10.0.0.1:8848, 10.0.0.2:8849")
	if err != nil {
		t.Fatalf("ServerConfigs() error = %v", err)
	}
	if len(cfgs) != 2 || cfgs[0].IpAddr != "10.0.0.1" || cfgs[1].Port != 8849 {
		t.Fatalf("ServerConfigs() = %+v", cfgs)
	}

	for _, bad := range []string{"", "no-port", "host:abc"} {
		if _, err := ServerConfigs(bad); err == nil {
			t.Errorf("ServerConfigs(%q) expected error", bad)
		}
	}
}
