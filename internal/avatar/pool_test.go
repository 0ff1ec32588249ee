package avatar

import "testing"

func TestPoolEntriesAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, len(Pool))
	for _, a := range Pool {
		if a.ID == "" || a.Name == "" || a.Image == "" {
			t.Fatalf("incomplete pool entry %+v", a)
		}
		if _, dup := seen[a.ID]; dup {
			t.Fatalf("duplicate avatar id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
}

func TestByID(t *testing.T) {
	a, ok := ByID("fox")
	if !ok {
		t.Fatal("expected fox in pool")
	}
	if a.Name != "Fox" {
		t.Fatalf("name = %q", a.Name)
	}
	if _, ok := ByID("unicorn"); ok {
		t.Fatal("expected unicorn to be absent")
	}
}

func TestAvailableFiltersUsed(t *testing.T) {
	used := []string{Pool[0].ID, Pool[2].ID}
	available := Available(used)
	if len(available) != len(Pool)-2 {
		t.Fatalf("available = %d, want %d", len(available), len(Pool)-2)
	}
	for _, a := range available {
		if a.ID == used[0] || a.ID == used[1] {
			t.Fatalf("used avatar %q still available", a.ID)
		}
	}
}

func TestAvailableEmptyWhenAllUsed(t *testing.T) {
	used := make([]string, 0, len(Pool))
	for _, a := range Pool {
		used = append(used, a.ID)
	}
	if got := Available(used); len(got) != 0 {
		t.Fatalf("expected empty availability, got %d", len(got))
	}
}

func TestImageURL(t *testing.T) {
	a, _ := ByID("owl")
	got := ImageURL("http://localhost:8080/", a)
	want := "http://localhost:8080/static/avatars/owl.png"
	if got != want {
		t.Fatalf("image url = %q, want %q", got, want)
	}
}
