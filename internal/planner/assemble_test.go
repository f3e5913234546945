package planner

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tns-records/internal/catalog"
	"tns-records/internal/dialect"
)

func columns(names ...string) []catalog.Column {
	out := make([]catalog.Column, len(names))
	for i, name := range names {
		out[i] = catalog.Column{Real: name}
	}
	return out
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.Table{Real: "MATERIAL", Columns: columns("MATID", "CODIGO", "DESCRIP", "STOCK", "GRUPMATID", "GCMATID")},
		catalog.Table{Real: "PRICES", Columns: columns("MATID", "COSTO", "PROMO")},
		catalog.Table{Real: "GRUPMAT", Columns: columns("GRUPMATID", "CODIGO", "DESCRIP", "GCMATID")},
		catalog.Table{Real: "GCMAT", Columns: columns("GCMATID", "CODIGO", "DESCRIP")},
		catalog.Table{Logical: "STOCK_BODEGA", Real: "Stock Bodega", Columns: []catalog.Column{{Real: "MATID"}, {Logical: "CANTIDAD", Real: "cantidad total"}}},
	)
	require.NoError(t, err)
	return cat
}

func sqliteOptions(t *testing.T) Options {
	t.Helper()
	d, err := dialect.Lookup(dialect.SQLite)
	require.NoError(t, err)
	return Options{Dialect: d}
}

func compileOK(t *testing.T, spec QuerySpec) *CompiledQuery {
	t.Helper()
	compiled, err := Compile(spec, testCatalog(t), sqliteOptions(t))
	require.NoError(t, err)
	require.NotNil(t, compiled)
	return compiled
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestCompile_ScenarioA_SingleTable(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:    "MATERIAL",
		Fields:   []string{"CODIGO", "DESCRIP"},
		Order:    []OrderSpec{{Field: "CODIGO", Direction: Asc}},
		Page:     1,
		PageSize: 50,
	})

	assert.Equal(t, "SELECT t0.CODIGO AS c0, t0.DESCRIP AS c1 FROM MATERIAL AS t0 ORDER BY t0.CODIGO ASC LIMIT 50 OFFSET 0", compiled.Data.SQL)
	assert.Empty(t, compiled.Data.Args)
	assert.Equal(t, "SELECT COUNT(*) FROM MATERIAL AS t0", compiled.Count.SQL)
	assert.Empty(t, compiled.Count.Args)
	assert.Equal(t, []AliasEntry{{Alias: "t0", RealTable: "MATERIAL", LogicalTable: "MATERIAL"}}, compiled.Aliases)
	assert.Equal(t, []ColumnMapping{
		{ExposedAlias: "c0", LogicalName: "CODIGO", Source: 0, RealColumn: "CODIGO"},
		{ExposedAlias: "c1", LogicalName: "DESCRIP", Source: 0, RealColumn: "DESCRIP"},
	}, compiled.Columns)
	assert.Empty(t, compiled.Warnings)
	assert.Equal(t, 1, compiled.Page)
	assert.Equal(t, 50, compiled.PageSize)
	assert.Equal(t, uint64(0), compiled.Offset)
}

func TestCompile_ScenarioB_SameTableJoinedTwice(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Joins: []JoinSpec{
			{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID", Columns: []JoinColumn{{Source: "COSTO", ExposedAs: "cost"}}},
			{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID", Type: LeftJoin, Columns: []JoinColumn{{Source: "PROMO", ExposedAs: "promo"}}},
		},
		Order: []OrderSpec{{Field: "CODIGO"}},
		Page:  2,
	})

	require.Len(t, compiled.Aliases, 3)
	assert.Equal(t, "t1", compiled.Aliases[1].Alias)
	assert.Equal(t, "t2", compiled.Aliases[2].Alias)
	assert.Equal(t, "PRICES", compiled.Aliases[1].RealTable)
	assert.Equal(t, "PRICES", compiled.Aliases[2].RealTable)
	assert.Equal(t,
		"SELECT t0.CODIGO AS c0, t1.COSTO AS c1, t2.PROMO AS c2 FROM MATERIAL AS t0"+
			" INNER JOIN PRICES AS t1 ON t0.MATID = t1.MATID"+
			" LEFT JOIN PRICES AS t2 ON t0.MATID = t2.MATID"+
			" ORDER BY t0.CODIGO ASC LIMIT 50 OFFSET 50",
		compiled.Data.SQL)
	assert.Equal(t, 1, compiled.Columns[1].Source)
	assert.Equal(t, 2, compiled.Columns[2].Source)
	assert.Equal(t, "cost", compiled.Columns[1].LogicalName)
}

func TestCompile_ScenarioC_FilterOnUnprojectedField(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:   "MATERIAL",
		Fields:  []string{"CODIGO"},
		Filters: FilterExpr{Conditions: []Condition{{Field: "STOCK", Op: OpGreaterThan, Value: 0}}},
		Order:   []OrderSpec{{Field: "CODIGO"}},
		Page:    1,
	})

	assert.Equal(t, "SELECT t0.CODIGO AS c0 FROM MATERIAL AS t0 WHERE t0.STOCK > ? ORDER BY t0.CODIGO ASC LIMIT 50 OFFSET 0", compiled.Data.SQL)
	assert.Equal(t, []interface{}{0}, compiled.Data.Args)
	assert.Equal(t, "SELECT COUNT(*) FROM MATERIAL AS t0 WHERE t0.STOCK > ?", compiled.Count.SQL)
	assert.Equal(t, []interface{}{0}, compiled.Count.Args)
}

func TestCompile_ScenarioD_DuplicateExposedName(t *testing.T) {
	compiled, err := Compile(QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO", "DESCRIP"},
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{{Source: "DESCRIP", ExposedAs: "descrip"}}},
		},
		Page: 1,
	}, testCatalog(t), sqliteOptions(t))

	requireKind(t, err, KindDuplicateField)
	assert.True(t, errors.Is(err, ErrDuplicateField))
	assert.Nil(t, compiled)
}

func TestCompile_DuplicateFieldVariants(t *testing.T) {
	tests := []struct {
		name string
		spec QuerySpec
	}{
		{
			name: "root field twice",
			spec: QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO", "codigo"}, Page: 1},
		},
		{
			name: "two joins exposing the same name",
			spec: QuerySpec{
				Table:  "MATERIAL",
				Fields: []string{"MATID"},
				Joins: []JoinSpec{
					{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{{Source: "CODIGO", ExposedAs: "GRUPO"}}},
					{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID", Columns: []JoinColumn{{Source: "CODIGO", ExposedAs: "GRUPO"}}},
				},
				Page: 1,
			},
		},
		{
			name: "join column defaulting to a root name",
			spec: QuerySpec{
				Table:  "MATERIAL",
				Fields: []string{"CODIGO"},
				Joins: []JoinSpec{
					{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{{Source: "CODIGO"}}},
				},
				Page: 1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec, testCatalog(t), sqliteOptions(t))
			requireKind(t, err, KindDuplicateField)
		})
	}
}

func TestCompile_HiddenJoinColumns(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{
				{Source: "DESCRIP", ExposedAs: "GRUPO"},
				{Source: "CODIGO", ExposedAs: "GM_CODIGO", Hidden: true},
				{Source: "CODIGO", Hidden: true},
			}},
		},
		Filters: FilterExpr{Conditions: []Condition{{Field: "GM_CODIGO", Op: OpEquals, Value: "FER"}}},
		Order:   []OrderSpec{{Field: "gm_codigo", Direction: Desc}},
		Page:    1,
	})

	assert.Equal(t, "SELECT t0.CODIGO AS c0, t1.DESCRIP AS c1 FROM MATERIAL AS t0"+
		" INNER JOIN GRUPMAT AS t1 ON t0.GRUPMATID = t1.GRUPMATID"+
		" WHERE t1.CODIGO = ? ORDER BY t1.CODIGO DESC LIMIT 50 OFFSET 0", compiled.Data.SQL)
	assert.Equal(t, []interface{}{"FER"}, compiled.Data.Args)
	assert.Equal(t, []ColumnMapping{
		{ExposedAlias: "c0", LogicalName: "CODIGO", Source: 0, RealColumn: "CODIGO"},
		{ExposedAlias: "c1", LogicalName: "GRUPO", Source: 1, RealColumn: "DESCRIP"},
	}, compiled.Columns)

	// A selected name wins over a hidden one from an earlier join.
	compiled = compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{{Source: "DESCRIP", ExposedAs: "NOMBRE", Hidden: true}}},
			{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID", Columns: []JoinColumn{{Source: "DESCRIP", ExposedAs: "NOMBRE"}}},
		},
		Order: []OrderSpec{{Field: "NOMBRE"}},
		Page:  1,
	})
	assert.Contains(t, compiled.Data.SQL, "ORDER BY t2.DESCRIP ASC")
	require.Len(t, compiled.Columns, 2)
}

func TestCompile_UnknownIdentifiersProduceNoSQL(t *testing.T) {
	tests := []struct {
		name string
		spec QuerySpec
	}{
		{name: "table", spec: QuerySpec{Table: "MATERIAL; DROP TABLE MATERIAL", Page: 1}},
		{name: "field", spec: QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO", "1=1 --"}, Page: 1}},
		{name: "join table", spec: QuerySpec{Table: "MATERIAL", Joins: []JoinSpec{{Table: "USUARIOS", LocalField: "MATID", ForeignField: "MATID"}}, Page: 1}},
		{name: "join foreign field", spec: QuerySpec{Table: "MATERIAL", Joins: []JoinSpec{{Table: "PRICES", LocalField: "MATID", ForeignField: "NOPE"}}, Page: 1}},
		{name: "join column", spec: QuerySpec{Table: "MATERIAL", Joins: []JoinSpec{{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID", Columns: []JoinColumn{{Source: "SECRET"}}}}, Page: 1}},
		{name: "real name behind a logical alias", spec: QuerySpec{Table: "Stock Bodega", Page: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compile(tt.spec, testCatalog(t), sqliteOptions(t))
			requireKind(t, err, KindUnknownIdentifier)
			assert.Nil(t, compiled)
		})
	}
}

func TestCompile_UnknownIdentifierMessageNamesLogicalOnly(t *testing.T) {
	_, err := Compile(QuerySpec{Table: "STOCK_BODEGA", Fields: []string{"cantidad total"}, Page: 1}, testCatalog(t), sqliteOptions(t))
	requireKind(t, err, KindUnknownIdentifier)
	assert.NotContains(t, err.Error(), "Stock Bodega")
}

func TestCompile_DanglingJoin(t *testing.T) {
	t.Run("forward reference", func(t *testing.T) {
		_, err := Compile(QuerySpec{
			Table: "MATERIAL",
			Joins: []JoinSpec{
				// PROMO lives on PRICES, which is joined after this entry.
				{Table: "GRUPMAT", LocalField: "PROMO", ForeignField: "GRUPMATID"},
				{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID"},
			},
			Page: 1,
		}, testCatalog(t), sqliteOptions(t))
		requireKind(t, err, KindDanglingJoin)
	})

	t.Run("joinFrom names a table not yet joined", func(t *testing.T) {
		_, err := Compile(QuerySpec{
			Table: "MATERIAL",
			Joins: []JoinSpec{
				{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID", From: "GRUPMAT"},
				{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID"},
			},
			Page: 1,
		}, testCatalog(t), sqliteOptions(t))
		requireKind(t, err, KindDanglingJoin)
	})
}

func TestCompile_JoinFromChainsThroughEarlierJoin(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Columns: []JoinColumn{{Source: "CODIGO", ExposedAs: "GM_CODIGO"}}},
			{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID", From: "GRUPMAT", Columns: []JoinColumn{{Source: "CODIGO", ExposedAs: "GC_CODIGO"}}},
		},
		Order: []OrderSpec{{Field: "CODIGO"}},
		Page:  1,
	})

	assert.Contains(t, compiled.Data.SQL, "INNER JOIN GCMAT AS t2 ON t1.GCMATID = t2.GCMATID")

	// Without joinFrom the root owns GCMATID.
	compiled = compileOK(t, QuerySpec{
		Table: "MATERIAL",
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID"},
			{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID"},
		},
		Page: 1,
	})
	assert.Contains(t, compiled.Data.SQL, "INNER JOIN GCMAT AS t2 ON t0.GCMATID = t2.GCMATID")
}

func TestCompile_AliasesAreInjective(t *testing.T) {
	for n := 0; n <= 6; n++ {
		joins := make([]JoinSpec, n)
		for i := range joins {
			joins[i] = JoinSpec{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID"}
		}
		compiled := compileOK(t, QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO"}, Joins: joins, Page: 1})

		require.Len(t, compiled.Aliases, n+1)
		seen := make(map[string]bool)
		for _, entry := range compiled.Aliases {
			assert.False(t, seen[entry.Alias], "alias %s reused", entry.Alias)
			seen[entry.Alias] = true
		}
	}
}

func TestCompile_CountSharesFromJoinWhere(t *testing.T) {
	compiled := compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Joins: []JoinSpec{
			{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID", Type: LeftJoin, Columns: []JoinColumn{{Source: "COSTO"}}},
		},
		Filters: FilterExpr{
			Conditions: []Condition{
				{Field: "COSTO", Op: OpGreaterOrEqual, Value: 10},
				{Field: "DESCRIP", Op: OpContains, Value: "TORN"},
			},
			AnyOf: []Condition{
				{Field: "STOCK", Op: OpGreaterThan, Value: 0},
				{Field: "PROMO", Op: OpIsNull, Value: false},
			},
		},
		Order: []OrderSpec{{Field: "COSTO", Direction: Desc}},
		Page:  3,
	})

	dataTail := compiled.Data.SQL[strings.Index(compiled.Data.SQL, " FROM "):]
	dataTail = dataTail[:strings.Index(dataTail, " ORDER BY ")]
	countTail := compiled.Count.SQL[strings.Index(compiled.Count.SQL, " FROM "):]
	assert.Equal(t, dataTail, countTail)
	assert.Equal(t, compiled.Count.Args, compiled.Data.Args)
	assert.Equal(t,
		" FROM MATERIAL AS t0 LEFT JOIN PRICES AS t1 ON t0.MATID = t1.MATID"+
			" WHERE t1.COSTO >= ? AND t0.DESCRIP LIKE ? AND (t0.STOCK > ? OR t1.PROMO IS NOT NULL)",
		countTail)
	assert.Equal(t, []interface{}{10, "%TORN%", 0}, compiled.Count.Args)
	assert.Contains(t, compiled.Data.SQL, "ORDER BY t1.COSTO DESC LIMIT 50 OFFSET 100")
}

func TestCompile_LiteralsAreNeverInlined(t *testing.T) {
	hostile := "x' OR '1'='1"
	compiled := compileOK(t, QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO"},
		Filters: FilterExpr{Conditions: []Condition{
			{Field: "DESCRIP", Op: OpEquals, Value: hostile},
			{Field: "CODIGO", Op: OpIn, Values: []interface{}{"A", hostile}},
		}},
		Order: []OrderSpec{{Field: "CODIGO"}},
		Page:  1,
	})

	assert.NotContains(t, compiled.Data.SQL, hostile)
	assert.NotContains(t, compiled.Count.SQL, hostile)
	assert.Contains(t, compiled.Data.SQL, "WHERE t0.DESCRIP = ? AND t0.CODIGO IN (?,?)")
	assert.Equal(t, []interface{}{hostile, "A", hostile}, compiled.Data.Args)
}

func TestCompile_EmptyFieldsSelectsRootCatalogColumns(t *testing.T) {
	compiled := compileOK(t, QuerySpec{Table: "gcmat", Order: []OrderSpec{{Field: "CODIGO"}}, Page: 1})
	assert.Equal(t, "SELECT t0.GCMATID AS c0, t0.CODIGO AS c1, t0.DESCRIP AS c2 FROM GCMAT AS t0 ORDER BY t0.CODIGO ASC LIMIT 50 OFFSET 0", compiled.Data.SQL)
	assert.Equal(t, "GCMAT", compiled.Aliases[0].LogicalTable)
}

func TestCompile_QuotesNonPlainRealNames(t *testing.T) {
	compiled := compileOK(t, QuerySpec{Table: "stock_bodega", Fields: []string{"CANTIDAD"}, Order: []OrderSpec{{Field: "cantidad"}}, Page: 1})
	assert.Equal(t, `SELECT t0."cantidad total" AS c0 FROM "Stock Bodega" AS t0 ORDER BY t0."cantidad total" ASC LIMIT 50 OFFSET 0`, compiled.Data.SQL)
	assert.Equal(t, "CANTIDAD", compiled.Columns[0].LogicalName)
}

func TestCompile_PageSizeClampedNotRejected(t *testing.T) {
	opts := sqliteOptions(t)
	opts.Limits = PageLimits{DefaultPageSize: 20, MaxPageSize: 100}

	compiled, err := Compile(QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO"}, Order: []OrderSpec{{Field: "CODIGO"}}, Page: 2, PageSize: 10000}, testCatalog(t), opts)
	require.NoError(t, err)
	assert.True(t, compiled.Clamped)
	assert.Equal(t, 100, compiled.PageSize)
	assert.Contains(t, compiled.Data.SQL, "LIMIT 100 OFFSET 100")
	require.Len(t, compiled.Warnings, 1)
	assert.Contains(t, compiled.Warnings[0], "clamped")

	compiled, err = Compile(QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO"}, Order: []OrderSpec{{Field: "CODIGO"}}, Page: 1}, testCatalog(t), opts)
	require.NoError(t, err)
	assert.False(t, compiled.Clamped)
	assert.Equal(t, 20, compiled.PageSize)
}

func TestCompile_UnorderedWarns(t *testing.T) {
	compiled := compileOK(t, QuerySpec{Table: "MATERIAL", Fields: []string{"CODIGO"}, Page: 1})
	assert.Equal(t, []string{WarnUnordered}, compiled.Warnings)
	assert.NotContains(t, compiled.Data.SQL, "ORDER BY")
}

func TestCompile_InvalidQuery(t *testing.T) {
	tests := []struct {
		name string
		spec QuerySpec
	}{
		{name: "page zero", spec: QuerySpec{Table: "MATERIAL", Page: 0}},
		{name: "negative page size", spec: QuerySpec{Table: "MATERIAL", Page: 1, PageSize: -1}},
		{name: "bad direction", spec: QuerySpec{Table: "MATERIAL", Page: 1, Order: []OrderSpec{{Field: "CODIGO", Direction: "SIDEWAYS"}}}},
		{name: "bad join type", spec: QuerySpec{Table: "MATERIAL", Page: 1, Joins: []JoinSpec{{Table: "PRICES", LocalField: "MATID", ForeignField: "MATID", Type: "CROSS"}}}},
		{name: "missing join keys", spec: QuerySpec{Table: "MATERIAL", Page: 1, Joins: []JoinSpec{{Table: "PRICES"}}}},
		{name: "empty in", spec: QuerySpec{Table: "MATERIAL", Page: 1, Filters: FilterExpr{Conditions: []Condition{{Field: "CODIGO", Op: OpIn}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.spec, testCatalog(t), sqliteOptions(t))
			requireKind(t, err, KindInvalidQuery)
		})
	}
}

func TestCompile_DialectRendering(t *testing.T) {
	spec := QuerySpec{
		Table:    "MATERIAL",
		Fields:   []string{"CODIGO"},
		Filters:  FilterExpr{Conditions: []Condition{{Field: "STOCK", Op: OpGreaterThan, Value: 0}, {Field: "DESCRIP", Op: OpStartsWith, Value: "TOR"}}},
		Order:    []OrderSpec{{Field: "CODIGO"}},
		Page:     2,
		PageSize: 10,
	}
	tests := []struct {
		dialect   string
		wantData  string
		wantCount string
		wantArgs  []interface{}
	}{
		{
			dialect:   dialect.Firebird,
			wantData:  "SELECT FIRST 10 SKIP 10 t0.CODIGO AS c0 FROM MATERIAL AS t0 WHERE t0.STOCK > ? AND t0.DESCRIP STARTING WITH ? ORDER BY t0.CODIGO ASC",
			wantCount: "SELECT COUNT(*) FROM MATERIAL AS t0 WHERE t0.STOCK > ? AND t0.DESCRIP STARTING WITH ?",
			wantArgs:  []interface{}{0, "TOR"},
		},
		{
			dialect:   dialect.MySQL,
			wantData:  "SELECT t0.`CODIGO` AS c0 FROM `MATERIAL` AS t0 WHERE t0.`STOCK` > ? AND t0.`DESCRIP` LIKE ? ORDER BY t0.`CODIGO` ASC LIMIT 10 OFFSET 10",
			wantCount: "SELECT COUNT(*) FROM `MATERIAL` AS t0 WHERE t0.`STOCK` > ? AND t0.`DESCRIP` LIKE ?",
			wantArgs:  []interface{}{0, "TOR%"},
		},
		{
			dialect:   dialect.Postgres,
			wantData:  `SELECT t0."CODIGO" AS c0 FROM "MATERIAL" AS t0 WHERE t0."STOCK" > $1 AND t0."DESCRIP" LIKE $2 ORDER BY t0."CODIGO" ASC LIMIT 10 OFFSET 10`,
			wantCount: `SELECT COUNT(*) FROM "MATERIAL" AS t0 WHERE t0."STOCK" > $1 AND t0."DESCRIP" LIKE $2`,
			wantArgs:  []interface{}{0, "TOR%"},
		},
		{
			dialect:   dialect.Oracle,
			wantData:  "SELECT t0.CODIGO AS c0 FROM MATERIAL t0 WHERE t0.STOCK > :1 AND t0.DESCRIP LIKE :2 ORDER BY t0.CODIGO ASC OFFSET 10 ROWS FETCH NEXT 10 ROWS ONLY",
			wantCount: "SELECT COUNT(*) FROM MATERIAL t0 WHERE t0.STOCK > :1 AND t0.DESCRIP LIKE :2",
			wantArgs:  []interface{}{0, "TOR%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			d, err := dialect.Lookup(tt.dialect)
			require.NoError(t, err)
			compiled, err := Compile(spec, testCatalog(t), Options{Dialect: d})
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, compiled.Data.SQL)
			assert.Equal(t, tt.wantCount, compiled.Count.SQL)
			assert.Equal(t, tt.wantArgs, compiled.Data.Args)
			assert.Equal(t, tt.wantArgs, compiled.Count.Args)
		})
	}
}

func TestCompile_RequiresDialectAndCatalog(t *testing.T) {
	_, err := Compile(QuerySpec{Table: "MATERIAL", Page: 1}, testCatalog(t), Options{})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = Compile(QuerySpec{Table: "MATERIAL", Page: 1}, nil, sqliteOptions(t))
	require.Error(t, err)
}

func TestCompile_ConcurrentSharedCatalog(t *testing.T) {
	cat := testCatalog(t)
	opts := sqliteOptions(t)
	spec := QuerySpec{
		Table:  "MATERIAL",
		Fields: []string{"CODIGO", "DESCRIP"},
		Joins: []JoinSpec{
			{Table: "GRUPMAT", LocalField: "GRUPMATID", ForeignField: "GRUPMATID", Type: LeftJoin, Columns: []JoinColumn{{Source: "DESCRIP", ExposedAs: "GRUPO"}}},
			{Table: "GCMAT", LocalField: "GCMATID", ForeignField: "GCMATID", From: "GRUPMAT", Columns: []JoinColumn{{Source: "CODIGO", ExposedAs: "GC", Hidden: true}}},
			{Table: "STOCK_BODEGA", LocalField: "MATID", ForeignField: "MATID", Type: LeftJoin, Columns: []JoinColumn{{Source: "CANTIDAD"}}},
		},
		Filters: FilterExpr{
			Conditions: []Condition{{Field: "STOCK", Op: OpGreaterThan, Value: 0}},
			AnyOf:      []Condition{{Field: "GC", Op: OpEquals, Value: "X"}, {Field: "GRUPMAT_CODIGO", Op: OpStartsWith, Value: "F"}},
		},
		Order:    []OrderSpec{{Field: "GRUPO", Direction: Desc}, {Field: "CODIGO"}},
		Page:     4,
		PageSize: 25,
	}
	want, err := Compile(spec, cat, opts)
	require.NoError(t, err)

	const workers = 64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	got := make([]*CompiledQuery, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			compiled, err := Compile(spec, cat, opts)
			if err != nil {
				errs <- err
				return
			}
			got[i] = compiled
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent compile: %v", err)
	}

	for i, compiled := range got {
		assert.Equal(t, want.Data, compiled.Data, "worker %d", i)
		assert.Equal(t, want.Count, compiled.Count, "worker %d", i)
		assert.Equal(t, want.Aliases, compiled.Aliases, "worker %d", i)
		assert.Equal(t, want.Columns, compiled.Columns, "worker %d", i)
	}
}
