package orchestrator

// preamble is prepended to every generated code block before execution. It
// defines the load_file helper the prompt promises: one entry point for every
// supported format, returning a pandas DataFrame with a uniform empty-string
// missing sentinel, mirroring the Frame contract the rest of the system uses.
const preamble = `
import json as _json
import os as _os

import pandas as _pd


def load_file(name):
    path = name if _os.path.exists(name) else _os.path.join(_os.environ.get("DATA_DIR", "."), name)
    ext = _os.path.splitext(path)[1].lower()
    if ext == ".csv":
        df = _pd.read_csv(path, dtype=str, keep_default_na=False)
    elif ext == ".tsv":
        df = _pd.read_csv(path, sep="\t", dtype=str, keep_default_na=False)
    elif ext == ".json":
        with open(path) as fh:
            text = fh.read()
        try:
            doc = _json.loads(text)
        except ValueError:
            # newline-delimited objects
            doc = [_json.loads(ln) for ln in text.splitlines() if ln.strip()]
        if isinstance(doc, dict):
            arrays = [v for v in doc.values() if isinstance(v, list)]
            if len(arrays) == 1:
                doc = arrays[0]
        df = _pd.DataFrame(doc)
    elif ext in (".xlsx", ".xls"):
        df = _pd.read_excel(path, dtype=str)
    elif ext == ".txt":
        best, best_sep = -1, None
        with open(path) as fh:
            head = [ln.rstrip("\n") for ln in fh.readlines()[:20] if ln.strip()]
        for sep in (",", "\t", "|", ";"):
            counts = {ln.count(sep) for ln in head}
            if len(counts) == 1 and counts and counts.pop() > best:
                best, best_sep = head[0].count(sep), sep
        if best_sep is None or best <= 0:
            df = _pd.DataFrame({"text": head})
        else:
            df = _pd.read_csv(path, sep=best_sep, dtype=str, keep_default_na=False)
    else:
        raise ValueError("unsupported format: " + ext)
    df = df.fillna("")
    for col in df.columns:
        df[col] = _pd.to_numeric(df[col], errors="ignore")
    return df
`
