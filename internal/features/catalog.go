package features

type Layout string

const (
	LayoutTable Layout = "table"
	LayoutCards Layout = "cards"
)

// Field maps a key of the backend payload to a column or card label.
type Field struct {
	Key   string
	Label string
}

type Definition struct {
	Page     string
	Title    string
	Endpoint string
	Layout   Layout
	Fields   []Field
}

// Catalog returns the page modules of the shell.
func Catalog() []Definition {
	return []Definition{
		{
			Page:     "dashboard",
			Title:    "Ringkasan Risiko",
			Endpoint: "/api/dashboard",
			Layout:   LayoutCards,
			Fields: []Field{
				{Key: "total_risks", Label: "Total Risiko"},
				{Key: "high_risks", Label: "Risiko Tinggi"},
				{Key: "mitigations", Label: "Rencana Mitigasi"},
				{Key: "kpi_achievement", Label: "Capaian IKU (%)"},
			},
		},
		{
			Page:     "rencana-strategis",
			Title:    "Rencana Strategis",
			Endpoint: "/api/rencana-strategis",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "kode", Label: "Kode"},
				{Key: "nama_rencana", Label: "Nama Rencana"},
				{Key: "periode", Label: "Periode"},
				{Key: "status", Label: "Status"},
			},
		},
		{
			Page:     "risk-input",
			Title:    "Input Risiko",
			Endpoint: "/api/risk-inputs",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "kode_risiko", Label: "Kode Risiko"},
				{Key: "sasaran", Label: "Sasaran"},
				{Key: "kategori", Label: "Kategori"},
				{Key: "status", Label: "Status"},
			},
		},
		{
			Page:     "indikator-kinerja-utama",
			Title:    "Indikator Kinerja Utama",
			Endpoint: "/api/indikator-kinerja-utama",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "indikator", Label: "Indikator"},
				{Key: "target", Label: "Target"},
				{Key: "realisasi", Label: "Realisasi"},
				{Key: "satuan", Label: "Satuan"},
			},
		},
		{
			Page:     "analisis-swot",
			Title:    "Analisis SWOT",
			Endpoint: "/api/analisis-swot",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "kategori", Label: "Kategori"},
				{Key: "objek_analisis", Label: "Objek Analisis"},
				{Key: "bobot", Label: "Bobot"},
				{Key: "score", Label: "Skor"},
			},
		},
		{
			Page:     "pengaturan",
			Title:    "Organisasi",
			Endpoint: "/api/organizations",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "code", Label: "Kode"},
				{Key: "name", Label: "Nama Organisasi"},
				{Key: "type", Label: "Jenis"},
			},
		},
		{
			Page:     "user-management",
			Title:    "Pengguna",
			Endpoint: "/api/users",
			Layout:   LayoutTable,
			Fields: []Field{
				{Key: "full_name", Label: "Nama"},
				{Key: "email", Label: "Email"},
				{Key: "role", Label: "Peran"},
			},
		},
	}
}
