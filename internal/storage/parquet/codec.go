package parquet

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"lightcurvedb/internal/domain"
)

// measurementSchema is the Arrow schema of one measurement file. Times
// are epoch microseconds so bucket grids match the other backends
// exactly; metadata rides along as a JSON string.
var measurementSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "source_id", Type: arrow.BinaryTypes.String},
		{Name: "band_id", Type: arrow.BinaryTypes.String},
		{Name: "time_us", Type: arrow.PrimitiveTypes.Int64},
		{Name: "flux", Type: arrow.PrimitiveTypes.Float64},
		{Name: "flux_err", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "ra", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "ra_err", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "dec", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "dec_err", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "metadata", Type: arrow.BinaryTypes.String, Nullable: true},
	},
	nil,
)

const readBatchSize = 4096

// encodeRecord builds one Arrow record holding the given measurements
// in slice order.
func encodeRecord(measurements []*domain.FluxMeasurement) (arrow.Record, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, measurementSchema)
	defer b.Release()

	idB := b.Field(0).(*array.StringBuilder)
	sourceB := b.Field(1).(*array.StringBuilder)
	bandB := b.Field(2).(*array.StringBuilder)
	timeB := b.Field(3).(*array.Int64Builder)
	fluxB := b.Field(4).(*array.Float64Builder)
	fluxErrB := b.Field(5).(*array.Float64Builder)
	raB := b.Field(6).(*array.Float64Builder)
	raErrB := b.Field(7).(*array.Float64Builder)
	decB := b.Field(8).(*array.Float64Builder)
	decErrB := b.Field(9).(*array.Float64Builder)
	metadataB := b.Field(10).(*array.StringBuilder)

	for _, m := range measurements {
		idB.Append(m.ID)
		sourceB.Append(m.SourceID)
		bandB.Append(m.BandID)
		timeB.Append(m.Time.UnixMicro())
		fluxB.Append(m.Flux)
		appendNullable(fluxErrB, m.FluxErr)
		appendNullable(raB, m.RA)
		appendNullable(raErrB, m.RAErr)
		appendNullable(decB, m.Dec)
		appendNullable(decErrB, m.DecErr)

		if len(m.Metadata) == 0 {
			metadataB.AppendNull()
		} else {
			js, err := json.Marshal(m.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encode metadata of %s: %w", m.ID, err)
			}
			metadataB.Append(string(js))
		}
	}

	return b.NewRecord(), nil
}

func appendNullable(b *array.Float64Builder, v *float64) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

// stageFile writes measurements to a temp file next to path and
// returns the temp path. The caller renames it into place; a failed
// stage leaves nothing behind.
func stageFile(path string, measurements []*domain.FluxMeasurement) (string, error) {
	rec, err := encodeRecord(measurements)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp parquet file: %w", err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
	)
	// WithStoreSchema embeds the Arrow schema into the Parquet
	// metadata so nullability survives the round trip.
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	w, err := pqarrow.NewFileWriter(measurementSchema, f, props, arrowProps)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("create parquet writer: %w", err)
	}

	if err := w.Write(rec); err != nil {
		w.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write parquet record: %w", err)
	}
	// Close finalizes the footer and closes the underlying file.
	if err := w.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Name(), nil
}

// readMeasurementsFile decodes every row of one Parquet file.
func readMeasurementsFile(ctx context.Context, path string) ([]*domain.FluxMeasurement, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	tbl, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet table: %w", err)
	}
	defer tbl.Release()

	measurements := make([]*domain.FluxMeasurement, 0, tbl.NumRows())

	rr := array.NewTableReader(tbl, readBatchSize)
	defer rr.Release()
	for rr.Next() {
		rec := rr.Record()

		ids := rec.Column(0).(*array.String)
		sources := rec.Column(1).(*array.String)
		bands := rec.Column(2).(*array.String)
		times := rec.Column(3).(*array.Int64)
		fluxes := rec.Column(4).(*array.Float64)
		fluxErrs := rec.Column(5).(*array.Float64)
		ras := rec.Column(6).(*array.Float64)
		raErrs := rec.Column(7).(*array.Float64)
		decs := rec.Column(8).(*array.Float64)
		decErrs := rec.Column(9).(*array.Float64)
		metadatas := rec.Column(10).(*array.String)

		for i := 0; i < int(rec.NumRows()); i++ {
			m := &domain.FluxMeasurement{
				ID:       ids.Value(i),
				SourceID: sources.Value(i),
				BandID:   bands.Value(i),
				Time:     time.UnixMicro(times.Value(i)).UTC(),
				Flux:     fluxes.Value(i),
				FluxErr:  nullableAt(fluxErrs, i),
				RA:       nullableAt(ras, i),
				RAErr:    nullableAt(raErrs, i),
				Dec:      nullableAt(decs, i),
				DecErr:   nullableAt(decErrs, i),
			}
			if metadatas.IsValid(i) {
				if err := json.Unmarshal([]byte(metadatas.Value(i)), &m.Metadata); err != nil {
					return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
				}
			}
			measurements = append(measurements, m)
		}
	}
	return measurements, nil
}

func nullableAt(col *array.Float64, i int) *float64 {
	if col.IsNull(i) {
		return nil
	}
	v := col.Value(i)
	return &v
}
